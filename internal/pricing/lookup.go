package pricing

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// AbsentPrice is returned when no assessed price could be found;
	// the valuation check treats it as "value unavailable".
	AbsentPrice = "NA"

	MethodDirect        = "direct_match"
	MethodLLM           = "llm_match"
	MethodFallbackFirst = "fallback_first_result"
	MethodFallbackError = "fallback_after_error"
	MethodUnavailable   = "unavailable"

	defaultTableBaseURL = "https://storage.googleapis.com/jipsin/storage"
)

// regionTables maps a 시도 to its reference table file.
var regionTables = map[string]string{
	"서울특별시":   "seoul.csv",
	"부산광역시":   "busan.csv",
	"대구광역시":   "daegu.csv",
	"인천광역시":   "incheon.csv",
	"광주광역시":   "gwangju.csv",
	"대전광역시":   "daejeon.csv",
	"울산광역시":   "ulsan.csv",
	"세종특별자치시": "sejong.csv",
	"경기도":     "gyeonggi.csv",
	"강원특별자치도": "gangwon.csv",
	"충청북도":    "chungbuk.csv",
	"충청남도":    "chungnam.csv",
	"전라북도":    "jeunbuk.csv",
	"전라남도":    "jeunnam.csv",
	"경상북도":    "gyeongbuk.csv",
	"경상남도":    "gyeongnam.csv",
	"제주특별자치도": "jeju.csv",
}

// Result is the outcome of one price lookup. Method records how the
// price was obtained so the analysis record can show its provenance.
type Result struct {
	AssessedPrice string `json:"assessed_price"`
	Method        string `json:"method"`
}

// Analyzer is the LLM collaborator used for fuzzy candidate matching.
// aireview.AnthropicCaller satisfies it.
type Analyzer interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

type tableRow struct {
	Sido     string `json:"시도"`
	Sigungu  string `json:"시군구"`
	Dongri   string `json:"동리"`
	DongName string `json:"동명"`
	HoName   string `json:"호명"`
	Price    string `json:"공시가격"`
}

type Client struct {
	baseURL string
	llm     Analyzer
	http    *http.Client
}

func NewClient(baseURL string, llm Analyzer) *Client {
	if baseURL == "" {
		baseURL = defaultTableBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		llm:     llm,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Lookup resolves the assessed price for an address. Filtering narrows
// exact five-component matches first, then relaxes to the neighborhood
// level; a single survivor is returned directly, several survivors go
// to the LLM for fuzzy ranking, and any LLM trouble falls back to the
// first candidate. An unknown region, an unreachable table, or an
// empty candidate set yields AbsentPrice; only transport problems are
// also reported as an error so the caller can log them.
func (c *Client) Lookup(ctx context.Context, address string) (Result, error) {
	parsed := ParseAddress(address)

	file, ok := regionTables[parsed.Sido]
	if !ok {
		return Result{AssessedPrice: AbsentPrice, Method: MethodUnavailable}, nil
	}
	rows, err := c.fetchTable(ctx, file)
	if err != nil {
		return Result{AssessedPrice: AbsentPrice, Method: MethodUnavailable}, fmt.Errorf("fetch region table %s: %w", file, err)
	}

	candidates := filterRows(rows, parsed, true)
	if len(candidates) == 0 {
		candidates = filterRows(rows, parsed, false)
	}
	if len(candidates) == 0 {
		return Result{AssessedPrice: AbsentPrice, Method: MethodUnavailable}, nil
	}
	if len(candidates) == 1 {
		return Result{AssessedPrice: candidates[0].Price, Method: MethodDirect}, nil
	}
	if c.llm == nil {
		return Result{AssessedPrice: candidates[0].Price, Method: MethodFallbackFirst}, nil
	}

	price, err := c.matchWithLLM(ctx, address, parsed, candidates)
	if err != nil {
		return Result{AssessedPrice: candidates[0].Price, Method: MethodFallbackError}, nil
	}
	if price == "" {
		return Result{AssessedPrice: candidates[0].Price, Method: MethodFallbackFirst}, nil
	}
	return Result{AssessedPrice: price, Method: MethodLLM}, nil
}

func (c *Client) fetchTable(ctx context.Context, file string) ([]tableRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+file, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		blob, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(blob))
	}
	return parseTable(resp.Body)
}

func parseTable(r io.Reader) ([]tableRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"시도", "시군구", "동리", "공시가격"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	cell := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []tableRow
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, tableRow{
			Sido:     cell(record, "시도"),
			Sigungu:  cell(record, "시군구"),
			Dongri:   cell(record, "동리"),
			DongName: cell(record, "동명"),
			HoName:   cell(record, "호명"),
			Price:    cell(record, "공시가격"),
		})
	}
	return rows, nil
}

func filterRows(rows []tableRow, p ParsedAddress, exact bool) []tableRow {
	var out []tableRow
	for _, r := range rows {
		if r.Sido != p.Sido || r.Sigungu != p.Sigungu || r.Dongri != p.Dongri {
			continue
		}
		if exact && (r.DongName != p.DongName || r.HoName != p.HoName) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (c *Client) matchWithLLM(ctx context.Context, address string, parsed ParsedAddress, candidates []tableRow) (string, error) {
	prompt := map[string]any{
		"task": "주소 유사도 분석 및 공시가격 추출",
		"parsed_info": map[string]any{
			"원본주소":  address,
			"파싱결과":  parsed,
			"건물명":   parsed.Building,
			"검색결과수": len(candidates),
		},
		"candidate_data": candidates,
		"instruction":    "위 원본 주소와 가장 유사한 후보 데이터를 찾아 해당 행의 '공시가격' 값을 JSON 형식으로 반환해주세요. 단지명과 동호수가 가장 중요한 매칭 기준입니다. 반드시 '공시가격' 키에 공시가격 값을 포함해야 합니다.",
	}
	blob, err := json.Marshal(prompt)
	if err != nil {
		return "", err
	}
	raw, err := c.llm.GenerateJSON(ctx, string(blob))
	if err != nil {
		return "", err
	}
	var reply map[string]any
	if err := json.Unmarshal([]byte(stripFences(raw)), &reply); err != nil {
		return "", fmt.Errorf("decode llm reply: %w", err)
	}
	for _, key := range []string{"공시가격", "public_price"} {
		switch v := reply[key].(type) {
		case string:
			return v, nil
		case float64:
			return fmt.Sprintf("%.0f", v), nil
		}
	}
	return "", nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}
