package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Rodons/CitationMap/internal/model"
)

// Lens finds patents whose non-patent-literature citations reference the publication
type Lens struct {
	fetcher *Fetcher
	cfg     model.LensConfig
}

// NewLens creates a Lens.org patent client
func NewLens(f *Fetcher, cfg model.LensConfig) *Lens {
	return &Lens{fetcher: f, cfg: cfg}
}

func (c *Lens) Name() model.SourceName { return model.SourceLens }

const lensPageSize = 100

type lensRequest struct {
	Query   map[string]interface{} `json:"query"`
	Size    int                    `json:"size"`
	Include []string               `json:"include"`
}

type lensResponse struct {
	Total int `json:"total"`
	Data  []struct {
		LensID        string `json:"lens_id"`
		DatePublished string `json:"date_published"`
		Biblio        struct {
			InventionTitle []struct {
				Text string `json:"text"`
				Lang string `json:"lang"`
			} `json:"invention_title"`
		} `json:"biblio"`
	} `json:"data"`
}

// Fetch returns one mention per citing patent. No patents is a valid, empty answer.
func (c *Lens) Fetch(ctx context.Context, identifier string) (*model.RawRecord, error) {
	value := identifier
	if model.IsPMID(identifier) {
		value = model.PMIDOf(identifier)
	}

	body, err := json.Marshal(lensRequest{
		Query: map[string]interface{}{
			"terms": map[string]interface{}{
				"reference_cited.npl.external_ids": []string{value},
			},
		},
		Size:    lensPageSize,
		Include: []string{"lens_id", "date_published", "biblio.invention_title"},
	})
	if err != nil {
		return nil, fmt.Errorf("encode lens query: %w", err)
	}

	header := make(http.Header)
	header.Set("Authorization", "Bearer "+c.cfg.Token)

	var resp lensResponse
	req := Request{
		Source:     model.SourceLens,
		Identifier: identifier,
		Query:      "patent/search",
		Method:     http.MethodPost,
		URL:        withQuery(c.cfg.BaseURL, "/patent/search", nil),
		Body:       body,
		Header:     header,
	}
	if err := c.fetcher.FetchJSON(ctx, req, &resp); err != nil {
		return nil, err
	}

	rec := &model.RawRecord{
		Source:     model.SourceLens,
		RecordID:   "patent-search:" + value,
		Identifier: identifier,
		FetchedAt:  nowFunc(),
	}
	for _, p := range resp.Data {
		if p.LensID == "" {
			continue
		}
		m := model.UptakeMention{
			PublicationID:  identifier,
			Type:           model.MentionPatent,
			SourceRecordID: p.LensID,
			Source:         model.SourceLens,
			Year:           yearOf(p.DatePublished),
		}
		for _, t := range p.Biblio.InventionTitle {
			if m.Title == "" || t.Lang == "en" {
				m.Title = t.Text
			}
		}
		rec.Mentions = append(rec.Mentions, m)
	}

	return rec, nil
}

// yearOf reads the year of an ISO date ("2019-05-02", "2019-05", "2019")
func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}
