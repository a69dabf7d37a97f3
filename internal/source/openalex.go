package source

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/Rodons/CitationMap/internal/model"
)

// OpenAlex is the citation-graph source: work metadata, authorships,
// concepts and the works that cite it.
type OpenAlex struct {
	fetcher *Fetcher
	cfg     model.OpenAlexConfig
	mailto  string
}

// NewOpenAlex creates an OpenAlex client. mailto joins the polite pool.
func NewOpenAlex(f *Fetcher, cfg model.OpenAlexConfig, mailto string) *OpenAlex {
	if cfg.CitingPageSize <= 0 || cfg.CitingPageSize > 200 {
		cfg.CitingPageSize = 200
	}
	return &OpenAlex{fetcher: f, cfg: cfg, mailto: mailto}
}

func (c *OpenAlex) Name() model.SourceName { return model.SourceOpenAlex }

type oaInstitution struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	CountryCode string `json:"country_code"`
}

type oaAuthorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
		ORCID       string `json:"orcid"`
	} `json:"author"`
	Institutions          []oaInstitution `json:"institutions"`
	RawAffiliationStrings []string        `json:"raw_affiliation_strings"`
}

type oaConcept struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Level       int     `json:"level"`
	Score       float64 `json:"score"`
}

type oaWork struct {
	ID              string  `json:"id"`
	DOI             string  `json:"doi"`
	Title           *string `json:"title"`
	PublicationYear *int    `json:"publication_year"`
	CitedByCount    *int    `json:"cited_by_count"`
	IDs             struct {
		PMID string `json:"pmid"`
	} `json:"ids"`
	Authorships []oaAuthorship `json:"authorships"`
	Concepts    []oaConcept    `json:"concepts"`
}

type oaGroup struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type oaList struct {
	Meta struct {
		Count      int     `json:"count"`
		NextCursor *string `json:"next_cursor"`
	} `json:"meta"`
	Results []oaWork  `json:"results"`
	GroupBy []oaGroup `json:"group_by"`
}

// Fetch returns the work with its citing works, paginated up to MaxCitingWorks.
// A failed citing-works page yields the record so far and a *PartialError.
func (c *OpenAlex) Fetch(ctx context.Context, identifier string) (*model.RawRecord, error) {
	var work oaWork
	req := Request{
		Source:     model.SourceOpenAlex,
		Identifier: identifier,
		Query:      "work",
		URL:        withQuery(c.cfg.BaseURL, "/works/"+workKey(identifier), c.params()),
	}
	if err := c.fetcher.FetchJSON(ctx, req, &work); err != nil {
		return nil, err
	}
	if work.ID == "" {
		return nil, fmt.Errorf("openalex %s: %w", identifier, ErrNotFound)
	}

	rec := &model.RawRecord{
		Source:        model.SourceOpenAlex,
		RecordID:      shortID(work.ID),
		Identifier:    identifier,
		FetchedAt:     nowFunc(),
		DOI:           bareDOI(work.DOI),
		PMID:          barePMID(work.IDs.PMID),
		Title:         work.Title,
		Year:          work.PublicationYear,
		CitationCount: work.CitedByCount,
		Authors:       convertAuthorships(work.Authorships),
		Fields:        c.selectFields(work.Concepts),
	}

	if work.CitedByCount != nil && *work.CitedByCount > 0 && c.cfg.MaxCitingWorks > 0 {
		citing, err := c.citingWorks(ctx, identifier, rec.RecordID)
		rec.CitingWorks = citing
		if err != nil {
			// The work itself is known; keep it with the pages gathered so far
			return rec, &PartialError{
				Source: model.SourceOpenAlex,
				Part:   fmt.Sprintf("citing works (%d of %d)", len(citing), *work.CitedByCount),
				Err:    err,
			}
		}
	}

	return rec, nil
}

func (c *OpenAlex) citingWorks(ctx context.Context, identifier, workID string) ([]model.CitingWork, error) {
	var works []model.CitingWork
	cursor := "*"

	for cursor != "" && len(works) < c.cfg.MaxCitingWorks {
		params := c.params()
		params.Set("filter", "cites:"+workID)
		params.Set("per-page", strconv.Itoa(c.cfg.CitingPageSize))
		params.Set("cursor", cursor)
		params.Set("select", "id,doi,publication_year,authorships")

		var page oaList
		req := Request{
			Source:     model.SourceOpenAlex,
			Identifier: identifier,
			Query:      "cites:" + workID + " cursor:" + cursor,
			URL:        withQuery(c.cfg.BaseURL, "/works", params),
		}
		if err := c.fetcher.FetchJSON(ctx, req, &page); err != nil {
			if IsNotFound(err) {
				break
			}
			return works, err
		}

		for _, w := range page.Results {
			cw := model.CitingWork{
				ID:      shortID(w.ID),
				DOI:     bareDOI(w.DOI),
				Authors: convertAuthorships(w.Authorships),
			}
			if w.PublicationYear != nil {
				cw.Year = *w.PublicationYear
			}
			works = append(works, cw)
		}

		if len(page.Results) == 0 || page.Meta.NextCursor == nil {
			break
		}
		cursor = *page.Meta.NextCursor
	}

	if len(works) > c.cfg.MaxCitingWorks {
		works = works[:c.cfg.MaxCitingWorks]
	}
	return works, nil
}

// WorksByORCID expands an author's ORCID iD into normalized identifiers of
// their works, most cited first. Works with neither a DOI nor a PMID are
// skipped. Paging stops at MaxAuthorWorks.
func (c *OpenAlex) WorksByORCID(ctx context.Context, orcid string) ([]string, error) {
	id, ok := model.NormalizeORCID(orcid)
	if !ok {
		return nil, fmt.Errorf("%q is not a valid ORCID iD", orcid)
	}

	limit := c.cfg.MaxAuthorWorks
	if limit <= 0 {
		limit = 1000
	}
	perPage := 200
	if limit < perPage {
		perPage = limit
	}

	var identifiers []string
	seen := make(map[string]bool)
	skipped := 0
	cursor := "*"

	for cursor != "" && len(identifiers) < limit {
		params := c.params()
		params.Set("filter", "author.orcid:"+id)
		params.Set("sort", "cited_by_count:desc")
		params.Set("per-page", strconv.Itoa(perPage))
		params.Set("cursor", cursor)
		params.Set("select", "id,doi,ids")

		var page oaList
		req := Request{
			Source:     model.SourceOpenAlex,
			Identifier: "orcid:" + id,
			Query:      "author.orcid cursor:" + cursor,
			URL:        withQuery(c.cfg.BaseURL, "/works", params),
		}
		if err := c.fetcher.FetchJSON(ctx, req, &page); err != nil {
			if IsNotFound(err) {
				break
			}
			return nil, fmt.Errorf("resolve ORCID %s: %w", id, err)
		}

		for _, w := range page.Results {
			ident := bareDOI(w.DOI)
			if ident == "" {
				if pmid := barePMID(w.IDs.PMID); pmid != "" {
					ident = "pmid:" + pmid
				}
			}
			if ident == "" {
				skipped++
				continue
			}
			if seen[ident] {
				continue
			}
			seen[ident] = true
			identifiers = append(identifiers, ident)
		}

		if len(page.Results) == 0 || page.Meta.NextCursor == nil {
			break
		}
		cursor = *page.Meta.NextCursor
	}

	if len(identifiers) > limit {
		identifiers = identifiers[:limit]
	}
	log.WithFields(log.Fields{
		"orcid":   id,
		"works":   len(identifiers),
		"skipped": skipped,
	}).Debug("resolved ORCID works")
	return identifiers, nil
}

// Cohort returns the citation-count distribution of works sharing a concept
// and publication year window, via group_by=cited_by_count.
func (c *OpenAlex) Cohort(ctx context.Context, field model.Field, year, window int) (*model.Cohort, error) {
	if field.ID == "" {
		return nil, fmt.Errorf("openalex cohort for %q: no concept id: %w", field.Label, ErrNotFound)
	}

	years := strconv.Itoa(year)
	if window > 0 {
		years = fmt.Sprintf("%d-%d", year-window, year+window)
	}

	params := c.params()
	params.Set("filter", "concepts.id:"+field.ID+",publication_year:"+years)
	params.Set("group_by", "cited_by_count")

	var list oaList
	req := Request{
		Source:     model.SourceOpenAlex,
		Identifier: "cohort:" + field.ID,
		Query:      "year:" + years,
		URL:        withQuery(c.cfg.BaseURL, "/works", params),
	}
	if err := c.fetcher.FetchJSON(ctx, req, &list); err != nil {
		return nil, err
	}

	cohort := &model.Cohort{Field: field.Label, Year: year, Source: "openalex"}
	for _, g := range list.GroupBy {
		n, err := strconv.Atoi(g.Key)
		if err != nil || g.Count <= 0 {
			continue
		}
		cohort.Bins = append(cohort.Bins, model.CohortBin{Citations: n, Count: g.Count})
	}
	if len(cohort.Bins) == 0 {
		return nil, fmt.Errorf("openalex cohort %s/%s: %w", field.Label, years, ErrNotFound)
	}
	sort.Slice(cohort.Bins, func(i, j int) bool { return cohort.Bins[i].Citations < cohort.Bins[j].Citations })

	return cohort, nil
}

// selectFields keeps the highest-scoring broad concepts
func (c *OpenAlex) selectFields(concepts []oaConcept) []model.Field {
	sorted := make([]oaConcept, len(concepts))
	copy(sorted, concepts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var fields []model.Field
	for _, con := range sorted {
		if con.Level > 1 || con.Score < c.cfg.MinFieldScore {
			continue
		}
		fields = append(fields, model.Field{ID: shortID(con.ID), Label: con.DisplayName, Score: con.Score})
		if c.cfg.MaxFields > 0 && len(fields) >= c.cfg.MaxFields {
			break
		}
	}

	// Fall back to the single best concept rather than dropping the publication from normalization
	if len(fields) == 0 && len(sorted) > 0 {
		best := sorted[0]
		fields = append(fields, model.Field{ID: shortID(best.ID), Label: best.DisplayName, Score: best.Score})
	}
	return fields
}

func (c *OpenAlex) params() url.Values {
	params := url.Values{}
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}
	return params
}

func convertAuthorships(in []oaAuthorship) []model.Author {
	if len(in) == 0 {
		return nil
	}
	authors := make([]model.Author, 0, len(in))
	for _, a := range in {
		author := model.Author{
			Name:  a.Author.DisplayName,
			ORCID: a.Author.ORCID,
		}
		for _, inst := range a.Institutions {
			author.Institutions = append(author.Institutions, model.Institution{
				ID:          shortID(inst.ID),
				Name:        inst.DisplayName,
				CountryCode: inst.CountryCode,
			})
		}
		// Unmatched affiliations only appear as raw strings
		if len(author.Institutions) == 0 {
			for _, raw := range a.RawAffiliationStrings {
				author.Institutions = append(author.Institutions, model.Institution{Name: raw})
			}
		}
		authors = append(authors, author)
	}
	return authors
}

// workKey maps a normalized identifier to the OpenAlex external-id path segment
func workKey(identifier string) string {
	if model.IsPMID(identifier) {
		return "pmid:" + model.PMIDOf(identifier)
	}
	return "doi:" + identifier
}

// shortID strips the https://openalex.org/ prefix
func shortID(id string) string {
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		return id[i+1:]
	}
	return id
}

func bareDOI(doi string) string {
	if doi == "" {
		return ""
	}
	if n, ok := model.NormalizeIdentifier(doi); ok && !model.IsPMID(n) {
		return n
	}
	return ""
}

func barePMID(pmid string) string {
	if pmid == "" {
		return ""
	}
	if n, ok := model.NormalizeIdentifier(shortID(pmid)); ok && model.IsPMID(n) {
		return model.PMIDOf(n)
	}
	return ""
}
