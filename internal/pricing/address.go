// Package pricing looks up the government-assessed price (공시가격)
// for an address from per-region reference tables, falling back to an
// LLM-assisted fuzzy match when the exact lookup is ambiguous.
package pricing

import (
	"regexp"
	"strings"
)

// ParsedAddress is a Korean lot address broken into the components the
// reference tables are keyed by. Missing components are empty strings.
type ParsedAddress struct {
	Sido     string // 시도: province / metropolitan city
	Sigungu  string // 시군구: district
	Dongri   string // 동리: neighborhood
	DongName string // 동명: building block number
	HoName   string // 호명: unit number
	Building string // 건물명: complex name, best effort
}

var (
	sidoPattern     = regexp.MustCompile(`^(서울특별시|부산광역시|경기도|대구광역시|인천광역시|광주광역시|대전광역시|울산광역시|세종특별자치시|강원특별자치도|제주특별자치도|충청북도|충청남도|전라북도|전라남도|경상북도|경상남도)\s+(\S+구|\S+시|\S+군)`)
	dongriPattern   = regexp.MustCompile(`(\S+동\d*|\S+읍|\S+면)(?:가)?`)
	blockPattern    = regexp.MustCompile(`(?:제)?(\d+)동`)
	floorPattern    = regexp.MustCompile(`제?\d+층`)
	unitPattern     = regexp.MustCompile(`(?:제)?(\d+)호`)
	buildingPattern = regexp.MustCompile(`([가-힣A-Za-z0-9]+(?:[가-힣A-Za-z0-9\s]+)?(?:아파트|빌라|오피스텔|타워|팰리스|파크|하이츠|프라자|빌딩|스카이|센터|시티|맨션|코아|플라자|타운|힐스))`)
)

// ParseAddress splits an address into region components, consuming the
// string left to right so a block number is never mistaken for a
// neighborhood.
func ParseAddress(address string) ParsedAddress {
	var p ParsedAddress

	if m := sidoPattern.FindStringSubmatch(address); m != nil {
		p.Sido = m[1]
		p.Sigungu = m[2]
		address = strings.TrimSpace(strings.Replace(address, m[0], "", 1))
	}
	if m := dongriPattern.FindStringSubmatch(address); m != nil {
		p.Dongri = m[0]
		address = strings.TrimSpace(strings.Replace(address, m[0], "", 1))
	}
	if m := blockPattern.FindStringSubmatch(address); m != nil {
		p.DongName = m[1]
		address = strings.TrimSpace(blockPattern.ReplaceAllString(address, ""))
	}
	address = strings.TrimSpace(floorPattern.ReplaceAllString(address, ""))
	if m := unitPattern.FindStringSubmatch(address); m != nil {
		p.HoName = m[1]
		address = strings.TrimSpace(unitPattern.ReplaceAllString(address, ""))
	}
	if m := buildingPattern.FindStringSubmatch(address); m != nil {
		p.Building = m[1]
	}
	return p
}
