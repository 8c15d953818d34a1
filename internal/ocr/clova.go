// Package ocr turns page images into structured field documents: a
// Clova OCR call produces raw text tokens with geometry, and an LLM
// extraction step arranges them into named fields per document type.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jibsin/leaseguard/internal/docset"
)

// Token is one recognized text fragment with its page geometry.
type Token struct {
	Text string  `json:"text"`
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
}

// ClovaClient calls the Naver Clova general OCR endpoint with an image
// URL and returns the recognized tokens in reading order.
type ClovaClient struct {
	apiURL string
	secret string
	http   *http.Client
}

func NewClovaClient(apiURL, secret string) *ClovaClient {
	return &ClovaClient{
		apiURL: strings.TrimSpace(apiURL),
		secret: secret,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type clovaRequest struct {
	Images    []clovaImage `json:"images"`
	RequestID string       `json:"requestId"`
	Version   string       `json:"version"`
	Timestamp int64        `json:"timestamp"`
}

type clovaImage struct {
	Format string `json:"format"`
	Name   string `json:"name"`
	URL    string `json:"url"`
}

type clovaResponse struct {
	Images []struct {
		InferResult        string `json:"inferResult"`
		Message            string `json:"message"`
		ConvertedImageInfo struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"convertedImageInfo"`
		Fields []struct {
			InferText    string `json:"inferText"`
			BoundingPoly struct {
				Vertices []struct {
					X float64 `json:"x"`
					Y float64 `json:"y"`
				} `json:"vertices"`
			} `json:"boundingPoly"`
		} `json:"fields"`
	} `json:"images"`
}

// Recognize runs one page image through Clova and returns the text
// tokens with the converted image dimensions the coordinates refer to.
func (c *ClovaClient) Recognize(ctx context.Context, imageURL, name string) ([]Token, docset.PageSize, error) {
	body, err := json.Marshal(clovaRequest{
		Images:    []clovaImage{{Format: "jpg", Name: name, URL: imageURL}},
		RequestID: uuid.NewString(),
		Version:   "V2",
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, docset.PageSize{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, docset.PageSize{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OCR-SECRET", c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, docset.PageSize{}, err
	}
	defer resp.Body.Close()
	blob, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, docset.PageSize{}, fmt.Errorf("ocr %s failed status=%d body=%s", name, resp.StatusCode, string(blob))
	}

	var parsed clovaResponse
	if err := json.Unmarshal(blob, &parsed); err != nil {
		return nil, docset.PageSize{}, fmt.Errorf("ocr %s: decode response: %w", name, err)
	}
	if len(parsed.Images) == 0 {
		return nil, docset.PageSize{}, fmt.Errorf("ocr %s: empty result", name)
	}
	img := parsed.Images[0]
	if img.InferResult == "ERROR" {
		return nil, docset.PageSize{}, fmt.Errorf("ocr %s: %s", name, img.Message)
	}

	tokens := make([]Token, 0, len(img.Fields))
	for _, f := range img.Fields {
		v := f.BoundingPoly.Vertices
		if len(v) < 3 {
			continue
		}
		// Vertices run clockwise from top-left; index 2 is bottom-right.
		tokens = append(tokens, Token{
			Text: f.InferText,
			X1:   v[0].X, Y1: v[0].Y,
			X2: v[2].X, Y2: v[2].Y,
		})
	}
	size := docset.PageSize{Width: img.ConvertedImageInfo.Width, Height: img.ConvertedImageInfo.Height}
	return tokens, size, nil
}
