package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const dezgoURL = "https://api.dezgo.com/text2image"

type dezgoParams struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
}

type DezgoGenerator struct {
	Client *http.Client
	Key    string
	Model  string
	URL    string
}

func NewDezgoGenerator(i *do.Injector) (Generator, error) {
	return &DezgoGenerator{
		Client: do.MustInvoke[*http.Client](i),
		Key:    do.MustInvokeNamed[string](i, "dezgo_key"),
		Model:  do.MustInvokeNamed[string](i, "dezgo_model"),
		URL:    dezgoURL,
	}, nil
}

func (g *DezgoGenerator) Generate(ctx context.Context, prompt string) (*Image, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("dezgo").With("model", g.Model)
	logger.Info("generating image via api.dezgo.com")

	body, err := json.Marshal(dezgoParams{Model: g.Model, Prompt: prompt})
	if err != nil {
		return nil, &Failure{Kind: KindRemote, Provider: "dezgo", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lo.Ternary(g.URL != "", g.URL, dezgoURL), bytes.NewReader(body))
	if err != nil {
		return nil, &Failure{Kind: KindRemote, Provider: "dezgo", Err: err}
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("X-Dezgo-Key", g.Key)

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, classify("dezgo", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &Failure{Kind: KindRemote, Provider: "dezgo",
			Err: fmt.Errorf("status=%d body=%s", resp.StatusCode, msg)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify("dezgo", err)
	}
	if len(data) == 0 {
		return nil, &Failure{Kind: KindEmpty, Provider: "dezgo"}
	}
	logger.Info("received image via api.dezgo.com", "seed", resp.Header.Get("x-input-seed"), "bytes", len(data))

	contentType := resp.Header.Get("Content-Type")
	return &Image{Data: data, ContentType: lo.Ternary(contentType != "", contentType, ContentTypePNG)}, nil
}
