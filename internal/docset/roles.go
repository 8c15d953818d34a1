package docset

import "strings"

// Role classifies a field key into the semantic slot the validator
// dispatches on. Keys follow numbered-suffix conventions for repeated
// entities (성명1, 성명2, 소유자_1, ...), so most roles match on a
// recognized prefix resolved once at page ingest.
type Role int

const (
	RoleUnknown Role = iota
	RoleLessor
	RoleOwnerName
	RoleRegistryOwner
	RoleAddress
	RoleRentedPart
	RoleArea
	RoleLeasePeriod
	RoleDeposit
	RoleRent
	RoleManagementFee
	RoleSpecialTerms
	RoleEncumbrance
	RoleViolation
	RoleSeniorLien
	RoleIssueDate
)

func (r Role) String() string {
	switch r {
	case RoleLessor:
		return "lessor"
	case RoleOwnerName:
		return "owner_name"
	case RoleRegistryOwner:
		return "registry_owner"
	case RoleAddress:
		return "address"
	case RoleRentedPart:
		return "rented_part"
	case RoleArea:
		return "area"
	case RoleLeasePeriod:
		return "lease_period"
	case RoleDeposit:
		return "deposit"
	case RoleRent:
		return "rent"
	case RoleManagementFee:
		return "management_fee"
	case RoleSpecialTerms:
		return "special_terms"
	case RoleEncumbrance:
		return "encumbrance"
	case RoleViolation:
		return "building_violation"
	case RoleSeniorLien:
		return "senior_lien"
	case RoleIssueDate:
		return "issue_date"
	}
	return "unknown"
}

var exactRoles = map[string]Role{
	"임대인":     RoleLessor,
	"소재지":     RoleAddress,
	"도로명주소":   RoleAddress,
	"건물주소":    RoleAddress,
	"대지위치":    RoleAddress,
	"임차할부분":   RoleRentedPart,
	"계약기간":    RoleLeasePeriod,
	"임대차기간":   RoleLeasePeriod,
	"신탁":      RoleEncumbrance,
	"압류":      RoleEncumbrance,
	"가압류":     RoleEncumbrance,
	"가처분":     RoleEncumbrance,
	"가등기":     RoleEncumbrance,
	"위반건축물":   RoleViolation,
	"(채권최고액)": RoleSeniorLien,
	"채권최고액":   RoleSeniorLien,
	"발급일자":    RoleIssueDate,
}

var prefixRoles = []struct {
	prefix string
	role   Role
}{
	{"성명", RoleOwnerName},
	{"소유자", RoleRegistryOwner},
	{"면적", RoleArea},
	{"보증금", RoleDeposit},
	{"차임", RoleRent},
	{"관리비", RoleManagementFee},
	{"특약", RoleSpecialTerms},
}

// RoleForKey resolves a field key to its semantic role. Exact matches
// win over prefixes: "임대인" is the lessor, but "임대인_주소" is a
// signature-block detail and stays unknown.
func RoleForKey(key string) Role {
	key = strings.TrimSpace(key)
	if r, ok := exactRoles[key]; ok {
		return r
	}
	if strings.Contains(key, "_주소") || strings.Contains(key, "_성명") ||
		strings.Contains(key, "_전화") || strings.Contains(key, "_주민등록번호") {
		return RoleUnknown
	}
	for _, p := range prefixRoles {
		if strings.HasPrefix(key, p.prefix) {
			return p.role
		}
	}
	return RoleUnknown
}

// FieldsByRole returns the page's field keys resolving to role, in
// sorted key order.
func FieldsByRole(page Page, role Role) []string {
	var keys []string
	for _, k := range SortedFieldKeys(page) {
		if RoleForKey(k) == role {
			keys = append(keys, k)
		}
	}
	return keys
}

// CollectByRole walks every page of a document and returns page/key
// pairs whose keys resolve to role, in page then key order.
type FieldRef struct {
	Page string
	Key  string
}

func CollectByRole(doc Document, role Role) []FieldRef {
	var refs []FieldRef
	for _, pageKey := range SortedPageKeys(doc) {
		for _, k := range FieldsByRole(doc[pageKey], role) {
			refs = append(refs, FieldRef{Page: pageKey, Key: k})
		}
	}
	return refs
}
