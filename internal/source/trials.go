package source

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/Rodons/CitationMap/internal/model"
)

// Trials searches ClinicalTrials.gov (API v2) for studies that reference the publication
type Trials struct {
	fetcher *Fetcher
	cfg     model.TrialsConfig
}

// NewTrials creates a ClinicalTrials.gov client
func NewTrials(f *Fetcher, cfg model.TrialsConfig) *Trials {
	if cfg.PageSize <= 0 || cfg.PageSize > 1000 {
		cfg.PageSize = 100
	}
	return &Trials{fetcher: f, cfg: cfg}
}

func (c *Trials) Name() model.SourceName { return model.SourceTrials }

const trialsMaxPages = 5

type trialsReference struct {
	PMID     string `json:"pmid"`
	Type     string `json:"type"`
	Citation string `json:"citation"`
}

type trialsStudy struct {
	ProtocolSection struct {
		IdentificationModule struct {
			NCTID      string `json:"nctId"`
			BriefTitle string `json:"briefTitle"`
		} `json:"identificationModule"`
		StatusModule struct {
			StartDateStruct struct {
				Date string `json:"date"`
			} `json:"startDateStruct"`
		} `json:"statusModule"`
		ReferencesModule *struct {
			References []trialsReference `json:"references"`
		} `json:"referencesModule"`
	} `json:"protocolSection"`
}

type trialsResponse struct {
	Studies       []trialsStudy `json:"studies"`
	NextPageToken string        `json:"nextPageToken"`
}

// Fetch returns one mention per study. A study with a references list must cite the
// publication there; a study without one is accepted on the search hit alone.
func (c *Trials) Fetch(ctx context.Context, identifier string) (*model.RawRecord, error) {
	term := identifier
	if model.IsPMID(identifier) {
		term = model.PMIDOf(identifier)
	}

	rec := &model.RawRecord{
		Source:     model.SourceTrials,
		RecordID:   "studies:" + term,
		Identifier: identifier,
		FetchedAt:  nowFunc(),
	}

	token := ""
	for page := 0; page < trialsMaxPages; page++ {
		params := url.Values{}
		params.Set("query.term", strconv.Quote(term))
		params.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
		params.Set("fields", "NCTId,BriefTitle,StartDate,ReferencesModule")
		if token != "" {
			params.Set("pageToken", token)
		}

		var resp trialsResponse
		req := Request{
			Source:     model.SourceTrials,
			Identifier: identifier,
			Query:      "studies page:" + token,
			URL:        withQuery(c.cfg.BaseURL, "/studies", params),
		}
		if err := c.fetcher.FetchJSON(ctx, req, &resp); err != nil {
			if IsNotFound(err) && page > 0 {
				break
			}
			return nil, err
		}

		for _, s := range resp.Studies {
			ps := s.ProtocolSection
			if ps.IdentificationModule.NCTID == "" {
				continue
			}
			if ps.ReferencesModule != nil && len(ps.ReferencesModule.References) > 0 &&
				!referencesPublication(ps.ReferencesModule.References, identifier) {
				continue
			}
			rec.Mentions = append(rec.Mentions, model.UptakeMention{
				PublicationID:  identifier,
				Type:           model.MentionClinicalTrial,
				SourceRecordID: ps.IdentificationModule.NCTID,
				Source:         model.SourceTrials,
				Title:          ps.IdentificationModule.BriefTitle,
				Year:           yearOf(ps.StatusModule.StartDateStruct.Date),
			})
		}

		if resp.NextPageToken == "" {
			break
		}
		token = resp.NextPageToken
	}

	return rec, nil
}

func referencesPublication(refs []trialsReference, identifier string) bool {
	for _, r := range refs {
		if model.IsPMID(identifier) {
			if strings.TrimSpace(r.PMID) == model.PMIDOf(identifier) {
				return true
			}
			continue
		}
		if strings.Contains(strings.ToLower(r.Citation), identifier) {
			return true
		}
	}
	return false
}
