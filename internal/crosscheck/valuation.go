package crosscheck

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jibsin/leaseguard/internal/docset"
)

const (
	noticeNoAssessedPrice   = "공시가격 정보가 없어 적정 보증금 여부를 판단할 수 없습니다."
	solutionNoAssessedPrice = "국토교통부 부동산 공시가격 알리미 등을 통해 공시가격을 확인하세요."
	noticeDepositRisk       = "[경고] 보증금과 선순위 채권의 합이 공시가격을 초과합니다."
	solutionDepositRisk     = "전세보증금 반환보증 가입 또는 보증금 조정을 권장합니다."
)

// Valuation flags the deposit when it is not covered by the assessed
// price of the building. The senior lien (채권최고액) counts against
// the coverage since it is repaid before the tenant in a forced sale.
// assessedPrice comes from the pricing lookup and may be "NA" when no
// price could be found.
func Valuation(ds *docset.DocumentSet, assessedPrice string) docset.NoticeGroup {
	g := docset.NewNoticeGroup()

	depositRef, deposit := firstFieldByKey(ds.Contract, "보증금_1")
	if deposit == nil || !deposit.HasValue() {
		return g
	}
	depositAmount, okDeposit := ParseCurrency(deposit.Text)

	assessed, okAssessed := ParseCurrency(assessedPrice)
	if !okAssessed || !okDeposit {
		g.Annotate(docset.DocContract, depositRef.Page, depositRef.Key, noticeNoAssessedPrice, solutionNoAssessedPrice)
		return g
	}

	var lien int64
	lienRef, lienField := firstFieldByKey(ds.RegistryDocument, "채권최고액")
	if lienField == nil {
		lienRef, lienField = firstFieldByKey(ds.RegistryDocument, "(채권최고액)")
	}
	if lienField != nil && lienField.HasValue() {
		if amount, ok := ParseCurrency(lienField.Text); ok {
			lien = amount
		}
	}

	notice, solution := "", ""
	if depositAmount+lien > assessed {
		notice, solution = noticeDepositRisk, solutionDepositRisk
	}
	g.Annotate(docset.DocContract, depositRef.Page, depositRef.Key, notice, solution)
	if lienField != nil {
		g.Annotate(docset.DocRegistryDocument, lienRef.Page, lienRef.Key, notice, solution)
	}
	return g
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// ParseCurrency extracts a won amount from free-form OCR text such as
// "금 300,000,000원" or "3억원". Hangul magnitude suffixes are expanded
// before stripping; anything without a digit fails.
func ParseCurrency(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == docset.AbsentText {
		return 0, false
	}
	if strings.EqualFold(s, "nan") {
		return 0, false
	}

	// "3억" / "3억 5000만" style amounts.
	if strings.ContainsAny(s, "억만") {
		if amount, ok := parseHangulAmount(s); ok {
			return amount, true
		}
	}

	digits := nonDigits.ReplaceAllString(s, "")
	if digits == "" {
		return 0, false
	}
	amount, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return amount, true
}

var hangulAmountPattern = regexp.MustCompile(`(?:([0-9,]+)\s*억)?\s*(?:([0-9,]+)\s*만)?\s*([0-9,]+)?`)

func parseHangulAmount(s string) (int64, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "원")
	m := hangulAmountPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	var total int64
	found := false
	for i, unit := range []int64{100_000_000, 10_000, 1} {
		part := strings.ReplaceAll(m[i+1], ",", "")
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0, false
		}
		total += n * unit
		found = true
	}
	return total, found
}

var areaPattern = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)

// parseArea pulls the first decimal number out of an area string such
// as "84.97㎡".
func parseArea(s string) (float64, bool) {
	m := areaPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var (
	bracketPattern    = regexp.MustCompile(`\[.*?\]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// NormalizeAddress strips bracketed annotations like "[도로명]" that
// OCR carries over from the document layout and collapses runs of
// whitespace, so the geocoder sees a plain address string.
func NormalizeAddress(s string) string {
	s = bracketPattern.ReplaceAllString(s, " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
