package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const (
	GeminiBaseURL = "https://generativelanguage.googleapis.com"
	GeminiModel   = "gemini-2.0-flash-preview-image-generation"
)

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inlineData,omitempty"`
}

type geminiInline struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string `json:"responseModalities"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type GeminiGenerator struct {
	Client  *http.Client
	Key     string
	Model   string
	BaseURL string
}

func NewGeminiGenerator(i *do.Injector) (Generator, error) {
	return &GeminiGenerator{
		Client:  do.MustInvoke[*http.Client](i),
		Key:     do.MustInvokeNamed[string](i, "gemini_key"),
		Model:   do.MustInvokeNamed[string](i, "gemini_model"),
		BaseURL: do.MustInvokeNamed[string](i, "gemini_base_url"),
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (*Image, error) {
	model := lo.Ternary(g.Model != "", g.Model, GeminiModel)
	logger := log.FromContextOrDiscard(ctx).WithGroup("gemini").With("model", model)
	logger.Info("generating image via gemini")

	var body geminiRequest
	body.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}
	body.GenerationConfig.ResponseModalities = []string{"TEXT", "IMAGE"}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Failure{Kind: KindRemote, Provider: "gemini", Err: err}
	}

	base := strings.TrimRight(lo.Ternary(g.BaseURL != "", g.BaseURL, GeminiBaseURL), "/")
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", base, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &Failure{Kind: KindRemote, Provider: "gemini", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.Key)

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, classify("gemini", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &Failure{Kind: KindRemote, Provider: "gemini",
			Err: fmt.Errorf("status=%d body=%s", resp.StatusCode, msg)}
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		f := classify("gemini", fmt.Errorf("decode response: %w", err))
		if f.Kind == KindRemote {
			// a 2xx body that is not a generateContent response will not improve on retry
			f.Kind = KindEmpty
		}
		return nil, f
	}

	// Only the first candidate is considered; text parts are ignored.
	if len(out.Candidates) == 0 {
		return nil, &Failure{Kind: KindEmpty, Provider: "gemini", Err: fmt.Errorf("no candidates")}
	}
	part, ok := lo.Find(out.Candidates[0].Content.Parts, func(p geminiPart) bool {
		return p.InlineData != nil && p.InlineData.Data != ""
	})
	if !ok {
		return nil, &Failure{Kind: KindEmpty, Provider: "gemini", Err: fmt.Errorf("no inline image data")}
	}

	data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
	if err != nil || len(data) == 0 {
		return nil, &Failure{Kind: KindEmpty, Provider: "gemini", Err: err}
	}
	logger.Info("received image via gemini", "bytes", len(data), "mime_type", part.InlineData.MimeType)

	return &Image{
		Data:        data,
		ContentType: lo.Ternary(part.InlineData.MimeType != "", part.InlineData.MimeType, ContentTypePNG),
	}, nil
}
