// Package crosscheck is the rule engine comparing owner, address,
// area, lease-period, deposit, and encumbrance facts across the three
// source documents. Every check is independent, every check runs, and
// each one emits its own notice group so the merger can compose the
// results with the LLM-driven passes.
package crosscheck

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jibsin/leaseguard/internal/docset"
)

const (
	defaultAreaEpsilon     = 0.001
	defaultIssueDateMaxAge = 30 * 24 * time.Hour

	// Two geocoded points closer than this (in degrees) are the same
	// building for our purposes.
	coordEpsilon = 1e-4
)

// Geocoder resolves an address to coordinates. ok=false means the
// service answered but found nothing for the address.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (lat, lng float64, ok bool, err error)
}

type Config struct {
	AreaEpsilon     float64
	IssueDateMaxAge time.Duration
	Now             func() time.Time
}

func (c Config) withDefaults() Config {
	if c.AreaEpsilon <= 0 {
		c.AreaEpsilon = defaultAreaEpsilon
	}
	if c.IssueDateMaxAge <= 0 {
		c.IssueDateMaxAge = defaultIssueDateMaxAge
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type Validator struct {
	cfg Config
	geo Geocoder
}

func New(cfg Config, geo Geocoder) *Validator {
	return &Validator{cfg: cfg.withDefaults(), geo: geo}
}

// Run executes every rule check against the reconciled document set
// and returns one notice group per check, in a fixed order. A check
// whose inputs are missing from the set skips itself rather than
// failing; only collaborator errors (geocoding) are reported, and even
// then the remaining checks still run.
func (v *Validator) Run(ctx context.Context, ds *docset.DocumentSet) ([]docset.NoticeGroup, error) {
	var errs []error

	groups := []docset.NoticeGroup{
		v.checkOwnerIdentity(ds),
	}

	addrGroup, err := v.checkAddresses(ctx, ds)
	if err != nil {
		errs = append(errs, fmt.Errorf("address check: %w", err))
	}
	groups = append(groups,
		addrGroup,
		v.checkArea(ds),
		v.checkLeasePeriod(ds),
		v.checkEncumbrances(ds),
		v.checkDeposit(ds),
		v.checkManagementFee(ds),
		v.checkIssueDate(ds),
	)

	return groups, errors.Join(errs...)
}

// --- owner / lessor identity ---

const (
	noticeOwnerMismatch   = "[경고] 집주인과 임대인이 다릅니다."
	solutionOwnerMismatch = "임대인을 확실하게 확인하여 주십시오."
	noticeCoOwnership     = "소유자가 공동명의로 확인됩니다"
	solutionCoOwnership   = "다른 소유주의 확인 필요"
)

func (v *Validator) checkOwnerIdentity(ds *docset.DocumentSet) docset.NoticeGroup {
	g := docset.NewNoticeGroup()

	lessorRef, lessor := firstFieldByRole(ds.Contract, docset.RoleLessor)
	if lessor == nil || !lessor.HasValue() {
		return g
	}
	lessorName := strings.TrimSpace(lessor.Text)

	nameRefs := docset.CollectByRole(ds.BuildingRegistry, docset.RoleOwnerName)
	ownerRefs := docset.CollectByRole(ds.RegistryDocument, docset.RoleRegistryOwner)

	ownerSet := map[string]struct{}{}
	matched := false
	for _, ref := range nameRefs {
		f := ds.BuildingRegistry[ref.Page][ref.Key]
		if !f.HasValue() {
			continue
		}
		if strings.TrimSpace(f.Text) == lessorName {
			matched = true
		}
	}
	for _, ref := range ownerRefs {
		f := ds.RegistryDocument[ref.Page][ref.Key]
		if !f.HasValue() {
			continue
		}
		name := strings.TrimSpace(f.Text)
		ownerSet[name] = struct{}{}
		if name == lessorName {
			matched = true
		}
	}

	notice, solution := "", ""
	if !matched {
		notice, solution = noticeOwnerMismatch, solutionOwnerMismatch
	}
	g.Annotate(docset.DocContract, lessorRef.Page, lessorRef.Key, notice, solution)
	for _, ref := range nameRefs {
		g.Annotate(docset.DocBuildingRegistry, ref.Page, ref.Key, notice, solution)
	}
	for _, ref := range ownerRefs {
		g.Annotate(docset.DocRegistryDocument, ref.Page, ref.Key, notice, solution)
	}

	// More than one distinct current owner means co-ownership: the
	// tenant should confirm every co-owner consents, whether or not
	// the lessor name matched one of them.
	if len(ownerSet) > 1 {
		g.Annotate(docset.DocContract, lessorRef.Page, lessorRef.Key, noticeCoOwnership, solutionCoOwnership)
	}
	return g
}

// --- address consistency ---

const (
	noticeAddressMismatch   = "[경고] 건물 주소 정보가 일치하지 않습니다."
	solutionAddressMismatch = "주소 확인이 필요합니다."
)

func (v *Validator) checkAddresses(ctx context.Context, ds *docset.DocumentSet) (docset.NoticeGroup, error) {
	g := docset.NewNoticeGroup()
	if v.geo == nil {
		return g, nil
	}

	type addrField struct {
		doc  docset.DocType
		ref  docset.FieldRef
		text string
	}
	var fields []addrField

	siteRef, site := firstFieldByRole(ds.Contract, docset.RoleAddress)
	if site != nil && site.HasValue() {
		text := site.Text
		// The contract address is usually split between the site and
		// the rented-part field (동/호수).
		if _, part := firstFieldByRole(ds.Contract, docset.RoleRentedPart); part != nil && part.HasValue() {
			text = text + " " + part.Text
		}
		fields = append(fields, addrField{docset.DocContract, siteRef, text})
	}
	if ref, f := firstFieldByKey(ds.BuildingRegistry, "도로명주소"); f != nil && f.HasValue() {
		fields = append(fields, addrField{docset.DocBuildingRegistry, ref, f.Text})
	}
	if ref, f := firstFieldByKey(ds.RegistryDocument, "건물주소"); f != nil && f.HasValue() {
		fields = append(fields, addrField{docset.DocRegistryDocument, ref, f.Text})
	}
	if len(fields) < 2 {
		return g, nil
	}

	type point struct{ lat, lng float64 }
	var resolved []point
	var resolvedFields []addrField
	for _, af := range fields {
		lat, lng, ok, err := v.geo.Geocode(ctx, NormalizeAddress(af.text))
		if err != nil {
			return g, err
		}
		if !ok {
			continue
		}
		resolved = append(resolved, point{lat, lng})
		resolvedFields = append(resolvedFields, af)
	}
	if len(resolved) < 2 {
		return g, nil
	}

	same := true
	for _, p := range resolved[1:] {
		if math.Abs(p.lat-resolved[0].lat) > coordEpsilon || math.Abs(p.lng-resolved[0].lng) > coordEpsilon {
			same = false
			break
		}
	}

	notice, solution := "", ""
	if !same {
		notice, solution = noticeAddressMismatch, solutionAddressMismatch
	}
	for _, af := range resolvedFields {
		g.Annotate(af.doc, af.ref.Page, af.ref.Key, notice, solution)
	}
	return g, nil
}

// --- area consistency ---

const (
	noticeAreaMismatch   = "[경고] 면적 정보가 다릅니다."
	solutionAreaMismatch = "계약 전 실제 면적을 확인하세요."
)

func (v *Validator) checkArea(ds *docset.DocumentSet) docset.NoticeGroup {
	g := docset.NewNoticeGroup()

	contractRef, contractField := firstFieldByRole(ds.Contract, docset.RoleArea)
	buildingRef, buildingField := firstFieldByRole(ds.BuildingRegistry, docset.RoleArea)
	if contractField == nil || buildingField == nil {
		return g
	}
	contractArea, okC := parseArea(contractField.Text)
	buildingArea, okB := parseArea(buildingField.Text)
	if !okC || !okB {
		return g
	}

	notice, solution := "", ""
	if math.Abs(contractArea-buildingArea) > v.cfg.AreaEpsilon {
		notice, solution = noticeAreaMismatch, solutionAreaMismatch
	}
	g.Annotate(docset.DocContract, contractRef.Page, contractRef.Key, notice, solution)
	g.Annotate(docset.DocBuildingRegistry, buildingRef.Page, buildingRef.Key, notice, solution)
	return g
}

// --- lease period consistency ---

const (
	noticePeriodMismatch   = "[경고] 임대차 계약 기간이 다릅니다."
	solutionPeriodMismatch = "계약서와 등기부등본의 임대차 기간을 확인하세요."
)

func (v *Validator) checkLeasePeriod(ds *docset.DocumentSet) docset.NoticeGroup {
	g := docset.NewNoticeGroup()

	contractRef, contractField := firstFieldByRole(ds.Contract, docset.RoleLeasePeriod)
	registryRef, registryField := firstFieldByKey(ds.RegistryDocument, "임대차기간")
	if contractField == nil || !contractField.HasValue() || registryField == nil || !registryField.HasValue() {
		return g
	}

	notice, solution := "", ""
	if strings.TrimSpace(contractField.Text) != strings.TrimSpace(registryField.Text) {
		notice, solution = noticePeriodMismatch, solutionPeriodMismatch
	}
	g.Annotate(docset.DocContract, contractRef.Page, contractRef.Key, notice, solution)
	g.Annotate(docset.DocRegistryDocument, registryRef.Page, registryRef.Key, notice, solution)
	return g
}

// --- rights encumbrance scan ---

const (
	solutionEncumbrance = "해당 권리관계를 해소한 후 계약을 진행하는 것을 권장합니다."
	noticeViolation     = "위반건축물로 등록되어 있어 법적 문제가 있습니다"
	solutionViolation   = "위반 내용 확인 및 시정 후 계약 진행 권장"
)

func (v *Validator) checkEncumbrances(ds *docset.DocumentSet) docset.NoticeGroup {
	g := docset.NewNoticeGroup()

	for _, ref := range docset.CollectByRole(ds.RegistryDocument, docset.RoleEncumbrance) {
		f := ds.RegistryDocument[ref.Page][ref.Key]
		notice, solution := "", ""
		if f.HasValue() {
			notice = fmt.Sprintf("[경고] 등기부등본에서 '%s' 항목이 발견되었습니다", ref.Key)
			solution = solutionEncumbrance
		}
		g.Annotate(docset.DocRegistryDocument, ref.Page, ref.Key, notice, solution)
	}
	for _, ref := range docset.CollectByRole(ds.BuildingRegistry, docset.RoleViolation) {
		f := ds.BuildingRegistry[ref.Page][ref.Key]
		notice, solution := "", ""
		if f.HasValue() {
			notice, solution = noticeViolation, solutionViolation
		}
		g.Annotate(docset.DocBuildingRegistry, ref.Page, ref.Key, notice, solution)
	}
	return g
}

// --- deposit consistency ---

const (
	noticeDepositMismatch   = "[경고] 보증금_1과 보증금_2의 금액이 다릅니다."
	solutionDepositMismatch = "계약서 내용 확인 후 보증금 금액을 일치시켜야 합니다."
)

func (v *Validator) checkDeposit(ds *docset.DocumentSet) docset.NoticeGroup {
	g := docset.NewNoticeGroup()

	ref1, f1 := firstFieldByKey(ds.Contract, "보증금_1")
	ref2, f2 := firstFieldByKey(ds.Contract, "보증금_2")
	if f1 == nil || !f1.HasValue() || f2 == nil || !f2.HasValue() {
		return g
	}

	differ := strings.TrimSpace(f1.Text) != strings.TrimSpace(f2.Text)
	if a1, ok1 := ParseCurrency(f1.Text); ok1 {
		if a2, ok2 := ParseCurrency(f2.Text); ok2 {
			differ = a1 != a2
		}
	}

	notice, solution := "", ""
	if differ {
		notice, solution = noticeDepositMismatch, solutionDepositMismatch
	}
	g.Annotate(docset.DocContract, ref1.Page, ref1.Key, notice, solution)
	g.Annotate(docset.DocContract, ref2.Page, ref2.Key, notice, solution)
	return g
}

// --- management fee consistency ---

const (
	noticeFeeMissing   = "[경고] 관리비 비정액 항목은 있으나 정액 관리비가 기재되지 않았습니다."
	solutionFeeMissing = "관리비 정액 기재 여부와 포함 항목(전기, 수도, 가스 등)을 확인하세요."
)

func (v *Validator) checkManagementFee(ds *docset.DocumentSet) docset.NoticeGroup {
	g := docset.NewNoticeGroup()

	fixedRef, fixed := firstFieldByKey(ds.Contract, "관리비_정액")
	variableRef, variable := firstFieldByKey(ds.Contract, "관리비_비정액")
	if variable == nil || !variable.HasValue() {
		return g
	}

	if fixed == nil {
		g.Annotate(docset.DocContract, variableRef.Page, variableRef.Key, noticeFeeMissing, solutionFeeMissing)
		return g
	}
	notice, solution := "", ""
	if !fixed.HasValue() {
		notice, solution = noticeFeeMissing, solutionFeeMissing
	}
	g.Annotate(docset.DocContract, fixedRef.Page, fixedRef.Key, notice, solution)
	return g
}

// --- issue date staleness ---

const (
	noticeStaleIssueDate   = "[경고] 발급일자가 오래되었습니다."
	solutionStaleIssueDate = "최신 서류를 다시 발급받아 확인하세요."
)

var issueDateLayouts = []string{
	"2006년 01월 02일",
	"2006년 1월 2일",
}

func (v *Validator) checkIssueDate(ds *docset.DocumentSet) docset.NoticeGroup {
	g := docset.NewNoticeGroup()

	ref, f := firstFieldByRole(ds.BuildingRegistry, docset.RoleIssueDate)
	if f == nil || !f.HasValue() {
		return g
	}
	issued, ok := parseIssueDate(f.Text)
	if !ok {
		return g
	}

	notice, solution := "", ""
	age := v.cfg.Now().Sub(issued)
	if age < 0 {
		age = -age
	}
	if age > v.cfg.IssueDateMaxAge {
		notice, solution = noticeStaleIssueDate, solutionStaleIssueDate
	}
	g.Annotate(docset.DocBuildingRegistry, ref.Page, ref.Key, notice, solution)
	return g
}

func parseIssueDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range issueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// --- shared lookups ---

func firstFieldByRole(doc docset.Document, role docset.Role) (docset.FieldRef, *docset.Field) {
	for _, ref := range docset.CollectByRole(doc, role) {
		return ref, doc[ref.Page][ref.Key]
	}
	return docset.FieldRef{}, nil
}

func firstFieldByKey(doc docset.Document, key string) (docset.FieldRef, *docset.Field) {
	for _, pageKey := range docset.SortedPageKeys(doc) {
		if f, ok := doc[pageKey][key]; ok {
			return docset.FieldRef{Page: pageKey, Key: key}, f
		}
	}
	return docset.FieldRef{}, nil
}
