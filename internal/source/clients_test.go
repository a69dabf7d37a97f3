package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Rodons/CitationMap/internal/cache"
	"github.com/Rodons/CitationMap/internal/model"
)

const openAlexWork = `{
  "id": "https://openalex.org/W100",
  "doi": "https://doi.org/10.1000/ABC",
  "title": "A study",
  "publication_year": 2020,
  "cited_by_count": 3,
  "ids": {"pmid": "https://pubmed.ncbi.nlm.nih.gov/555"},
  "authorships": [
    {"author": {"display_name": "Jane Smith"}, "institutions": [{"id": "https://openalex.org/I1", "display_name": "MIT", "country_code": "US"}]},
    {"author": {"display_name": "Li Wei"}, "institutions": [], "raw_affiliation_strings": ["Dept of Physics, Tsinghua University"]}
  ],
  "concepts": [
    {"id": "https://openalex.org/C2", "display_name": "Oncology", "level": 1, "score": 0.6},
    {"id": "https://openalex.org/C1", "display_name": "Medicine", "level": 0, "score": 0.9},
    {"id": "https://openalex.org/C3", "display_name": "Tumor microenvironment", "level": 3, "score": 0.95}
  ]
}`

func TestOpenAlexFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/works/doi:10.1000/abc":
			_, _ = fmt.Fprint(w, openAlexWork)
		case r.URL.Path == "/works" && r.URL.Query().Get("filter") == "cites:W100":
			if r.URL.Query().Get("cursor") == "*" {
				_, _ = fmt.Fprint(w, `{"meta":{"count":3,"next_cursor":"c2"},"results":[
					{"id":"https://openalex.org/W201","publication_year":2021,"authorships":[{"author":{"display_name":"Jane Smith"},"institutions":[]}]},
					{"id":"https://openalex.org/W202","publication_year":2022,"authorships":[]}]}`)
				return
			}
			_, _ = fmt.Fprint(w, `{"meta":{"count":3,"next_cursor":null},"results":[{"id":"https://openalex.org/W203","publication_year":2023}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := model.DefaultConfig().Sources.OpenAlex
	cfg.BaseURL = server.URL
	client := NewOpenAlex(newTestFetcher(server, nil), cfg, "")

	rec, err := client.Fetch(context.Background(), "10.1000/abc")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if rec.RecordID != "W100" || rec.DOI != "10.1000/abc" || rec.PMID != "555" {
		t.Errorf("Unexpected ids: %q %q %q", rec.RecordID, rec.DOI, rec.PMID)
	}
	if rec.Title == nil || *rec.Title != "A study" || rec.Year == nil || *rec.Year != 2020 {
		t.Errorf("Unexpected title/year: %v %v", rec.Title, rec.Year)
	}
	if rec.CitationCount == nil || *rec.CitationCount != 3 {
		t.Errorf("Unexpected citation count: %v", rec.CitationCount)
	}

	wantFields := []model.Field{
		{ID: "C1", Label: "Medicine", Score: 0.9},
		{ID: "C2", Label: "Oncology", Score: 0.6},
	}
	if diff := cmp.Diff(wantFields, rec.Fields); diff != "" {
		t.Errorf("Fields mismatch (-want +got):\n%s", diff)
	}

	if len(rec.Authors) != 2 || rec.Authors[1].Institutions[0].Name != "Dept of Physics, Tsinghua University" {
		t.Errorf("Expected raw affiliation fallback, got %+v", rec.Authors)
	}

	var ids []string
	for _, cw := range rec.CitingWorks {
		ids = append(ids, cw.ID)
	}
	if diff := cmp.Diff([]string{"W201", "W202", "W203"}, ids); diff != "" {
		t.Errorf("Citing works mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenAlexCitingWorksFailureKeepsRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/works/doi:10.1000/abc":
			_, _ = fmt.Fprint(w, openAlexWork)
		case r.URL.Path == "/works" && r.URL.Query().Get("cursor") == "*":
			_, _ = fmt.Fprint(w, `{"meta":{"count":3,"next_cursor":"c2"},"results":[
				{"id":"https://openalex.org/W201","publication_year":2021,"authorships":[]}]}`)
		case r.URL.Path == "/works":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := model.DefaultConfig().Sources.OpenAlex
	cfg.BaseURL = server.URL
	client := NewOpenAlex(newTestFetcher(server, nil), cfg, "")

	rec, err := client.Fetch(context.Background(), "10.1000/abc")
	if !IsPartial(err) {
		t.Fatalf("Expected a partial error, got %v", err)
	}
	if !IsServerError(err) {
		t.Errorf("Expected the 503 to be wrapped, got %v", err)
	}
	if rec == nil {
		t.Fatal("Expected the work to be kept")
	}
	if rec.Title == nil || *rec.Title != "A study" || rec.Year == nil || *rec.Year != 2020 {
		t.Errorf("Unexpected title/year: %v %v", rec.Title, rec.Year)
	}
	if rec.CitationCount == nil || *rec.CitationCount != 3 || len(rec.Authors) != 2 {
		t.Errorf("Expected count and authors from the work, got %v %+v", rec.CitationCount, rec.Authors)
	}
	if len(rec.CitingWorks) != 1 || rec.CitingWorks[0].ID != "W201" {
		t.Errorf("Expected the first citing page to be kept, got %+v", rec.CitingWorks)
	}
}

func TestOpenAlexNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	cfg := model.DefaultConfig().Sources.OpenAlex
	cfg.BaseURL = server.URL
	client := NewOpenAlex(newTestFetcher(server, nil), cfg, "")

	if _, err := client.Fetch(context.Background(), "pmid:42"); !IsNotFound(err) {
		t.Fatalf("Expected not found, got %v", err)
	}
}

func TestOpenAlexCohort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("group_by") != "cited_by_count" {
			t.Errorf("Expected group_by query, got %s", r.URL.RawQuery)
		}
		if got := r.URL.Query().Get("filter"); got != "concepts.id:C1,publication_year:2019-2021" {
			t.Errorf("Unexpected filter %q", got)
		}
		_, _ = fmt.Fprint(w, `{"group_by":[{"key":"10","count":5},{"key":"0","count":20},{"key":"unknown","count":3}]}`)
	}))
	defer server.Close()

	cfg := model.DefaultConfig().Sources.OpenAlex
	cfg.BaseURL = server.URL
	client := NewOpenAlex(newTestFetcher(server, nil), cfg, "")

	cohort, err := client.Cohort(context.Background(), model.Field{ID: "C1", Label: "Medicine"}, 2020, 1)
	if err != nil {
		t.Fatalf("Cohort failed: %v", err)
	}

	want := []model.CohortBin{{Citations: 0, Count: 20}, {Citations: 10, Count: 5}}
	if diff := cmp.Diff(want, cohort.Bins); diff != "" {
		t.Errorf("Bins mismatch (-want +got):\n%s", diff)
	}
	if cohort.Size() != 25 {
		t.Errorf("Expected cohort size 25, got %d", cohort.Size())
	}

	if _, err := client.Cohort(context.Background(), model.Field{Label: "No id"}, 2020, 0); !IsNotFound(err) {
		t.Errorf("Expected not found for field without concept id, got %v", err)
	}
}

func TestOpenAlexWorksByORCID(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		q := r.URL.Query()
		if r.URL.Path != "/works" || q.Get("filter") != "author.orcid:0000-0002-1825-0097" {
			t.Errorf("Unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
			http.NotFound(w, r)
			return
		}
		if q.Get("sort") != "cited_by_count:desc" {
			t.Errorf("Expected most cited first, got sort=%q", q.Get("sort"))
		}
		if q.Get("cursor") == "*" {
			_, _ = fmt.Fprint(w, `{"meta":{"count":5,"next_cursor":"c2"},"results":[
				{"id":"https://openalex.org/W1","doi":"https://doi.org/10.1000/AAA","ids":{"pmid":"https://pubmed.ncbi.nlm.nih.gov/111"}},
				{"id":"https://openalex.org/W2","doi":null,"ids":{"pmid":"https://pubmed.ncbi.nlm.nih.gov/222"}},
				{"id":"https://openalex.org/W3","doi":null,"ids":{}}]}`)
			return
		}
		if q.Get("cursor") != "c2" {
			t.Errorf("Unexpected cursor %q", q.Get("cursor"))
		}
		_, _ = fmt.Fprint(w, `{"meta":{"count":5,"next_cursor":null},"results":[
			{"id":"https://openalex.org/W4","doi":"https://doi.org/10.1000/aaa"},
			{"id":"https://openalex.org/W5","doi":"https://doi.org/10.1000/bbb"}]}`)
	}))
	defer server.Close()

	cfg := model.DefaultConfig().Sources.OpenAlex
	cfg.BaseURL = server.URL
	client := NewOpenAlex(newTestFetcher(server, nil), cfg, "")

	ids, err := client.WorksByORCID(context.Background(), "https://orcid.org/0000-0002-1825-0097")
	if err != nil {
		t.Fatalf("WorksByORCID failed: %v", err)
	}
	want := []string{"10.1000/aaa", "pmid:222", "10.1000/bbb"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("Identifiers mismatch (-want +got):\n%s", diff)
	}
	if requests.Load() != 2 {
		t.Errorf("Expected 2 page requests, got %d", requests.Load())
	}

	cfg.MaxAuthorWorks = 2
	capped := NewOpenAlex(newTestFetcher(server, nil), cfg, "")
	requests.Store(0)
	ids, err = capped.WorksByORCID(context.Background(), "0000-0002-1825-0097")
	if err != nil {
		t.Fatalf("WorksByORCID failed: %v", err)
	}
	if diff := cmp.Diff([]string{"10.1000/aaa", "pmid:222"}, ids); diff != "" {
		t.Errorf("Capped identifiers mismatch (-want +got):\n%s", diff)
	}
	if requests.Load() != 1 {
		t.Errorf("Expected paging to stop at the cap, got %d requests", requests.Load())
	}

	if _, err := client.WorksByORCID(context.Background(), "0000-0002-1825-0098"); err == nil {
		t.Error("Expected an invalid check digit to be rejected")
	}
}

func TestOpenAlexWorksByORCIDPageFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "*" {
			_, _ = fmt.Fprint(w, `{"meta":{"count":2,"next_cursor":"c2"},"results":[{"id":"https://openalex.org/W1","doi":"https://doi.org/10.1000/aaa"}]}`)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := model.DefaultConfig().Sources.OpenAlex
	cfg.BaseURL = server.URL
	client := NewOpenAlex(newTestFetcher(server, nil), cfg, "")

	ids, err := client.WorksByORCID(context.Background(), "0000-0002-1825-0097")
	if !IsServerError(err) {
		t.Fatalf("Expected the failed page to surface, got %v", err)
	}
	if ids != nil {
		t.Errorf("Expected no identifiers from an incomplete listing, got %v", ids)
	}
}

func TestICiteFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pubs" {
			http.NotFound(w, r)
			return
		}
		switch {
		case r.URL.Query().Get("dois") == "10.1000/abc":
			_, _ = fmt.Fprint(w, `{"data":[{"pmid":555,"doi":"10.1000/ABC","title":"A study","authors":"Jane Smith, Li Wei","year":2020,
				"citation_count":125,"relative_citation_ratio":2.1,"field_citation_rate":4.5,"nih_percentile":88.4}]}`)
		case r.URL.Query().Get("pmids") == "777":
			_, _ = fmt.Fprint(w, `{"data":[{"pmid":777,"year":2018,"citation_count":4,"relative_citation_ratio":0.7}]}`)
		default:
			_, _ = fmt.Fprint(w, `{"data":[]}`)
		}
	}))
	defer server.Close()

	client := NewICite(newTestFetcher(server, nil), model.ICiteConfig{BaseURL: server.URL})
	ctx := context.Background()

	rec, err := client.Fetch(ctx, "10.1000/abc")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if rec.PMID != "555" || *rec.CitationCount != 125 || *rec.Percentile != 88.4 || *rec.RCR != 2.1 {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if len(rec.Authors) != 2 || rec.Authors[1].Name != "Li Wei" {
		t.Errorf("Unexpected authors: %+v", rec.Authors)
	}

	// No published percentile: approximated from RCR
	rec, err = client.Fetch(ctx, "pmid:777")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if rec.Percentile == nil || *rec.Percentile != 25 {
		t.Errorf("Expected RCR-derived percentile 25, got %v", rec.Percentile)
	}

	if _, err := client.Fetch(ctx, "10.9/none"); !IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestLensFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var q lensRequest
		if err := json.Unmarshal(body, &q); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		_, _ = fmt.Fprint(w, `{"total":2,"data":[
			{"lens_id":"001-002","date_published":"2021-03-04","biblio":{"invention_title":[{"text":"Verfahren","lang":"de"},{"text":"Method","lang":"en"}]}},
			{"lens_id":"003-004","date_published":"2022"}]}`)
	}))
	defer server.Close()

	client := NewLens(newTestFetcher(server, nil), model.LensConfig{BaseURL: server.URL, Token: "secret"})
	rec, err := client.Fetch(context.Background(), "10.1000/abc")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	want := []model.UptakeMention{
		{PublicationID: "10.1000/abc", Type: model.MentionPatent, SourceRecordID: "001-002", Source: model.SourceLens, Title: "Method", Year: 2021},
		{PublicationID: "10.1000/abc", Type: model.MentionPatent, SourceRecordID: "003-004", Source: model.SourceLens, Year: 2022},
	}
	if diff := cmp.Diff(want, rec.Mentions); diff != "" {
		t.Errorf("Mentions mismatch (-want +got):\n%s", diff)
	}

	bad := NewLens(newTestFetcher(server, nil), model.LensConfig{BaseURL: server.URL, Token: "wrong"})
	if _, err := bad.Fetch(context.Background(), "10.1000/abc"); !IsAuthError(err) {
		t.Errorf("Expected auth error, got %v", err)
	}
}

func TestTrialsFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageToken") == "" {
			_, _ = fmt.Fprint(w, `{"studies":[
				{"protocolSection":{"identificationModule":{"nctId":"NCT01","briefTitle":"Trial one"},
				  "statusModule":{"startDateStruct":{"date":"2019-06"}},
				  "referencesModule":{"references":[{"pmid":"555","citation":"Smith J. A study."}]}}},
				{"protocolSection":{"identificationModule":{"nctId":"NCT02","briefTitle":"Unrelated"},
				  "referencesModule":{"references":[{"pmid":"5556"}]}}}
			],"nextPageToken":"p2"}`)
			return
		}
		_, _ = fmt.Fprint(w, `{"studies":[{"protocolSection":{"identificationModule":{"nctId":"NCT03","briefTitle":"No refs"}}}]}`)
	}))
	defer server.Close()

	client := NewTrials(newTestFetcher(server, nil), model.TrialsConfig{BaseURL: server.URL})
	rec, err := client.Fetch(context.Background(), "pmid:555")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	var ids []string
	for _, m := range rec.Mentions {
		ids = append(ids, m.SourceRecordID)
	}
	if diff := cmp.Diff([]string{"NCT01", "NCT03"}, ids); diff != "" {
		t.Errorf("Trials mismatch (-want +got):\n%s", diff)
	}
	if rec.Mentions[0].Year != 2019 {
		t.Errorf("Expected start year 2019, got %d", rec.Mentions[0].Year)
	}
}

const guidelineHTML = `<html><head><title> Asthma guideline 2023 </title></head><body>
<ol class="references">
 <li>Smith J. <a href="https://doi.org/10.1000/ABC">doi:10.1000/abc</a></li>
 <li><a href="https://pubmed.ncbi.nlm.nih.gov/5551/">PubMed</a></li>
 <li><a href="https://doi.org/10.1000/abcd">longer doi</a></li>
 <li><a href="#top">top</a> <a href="mailto:x@example.org">mail</a></li>
</ol></body></html>`

func TestGuidelinesFetch(t *testing.T) {
	var pageHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/asthma":
			pageHits.Add(1)
			_, _ = fmt.Fprint(w, guidelineHTML)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := model.GuidelinesConfig{Pages: []string{server.URL + "/asthma", server.URL + "/gone"}}
	client := NewGuidelines(newTestFetcher(server, cache.NewMemoryCache(0, 0)), cfg, nil)
	ctx := context.Background()

	rec, err := client.Fetch(ctx, "10.1000/abc")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(rec.Mentions) != 1 || rec.Mentions[0].Title != "Asthma guideline 2023" {
		t.Fatalf("Expected one guideline mention, got %+v", rec.Mentions)
	}

	rec, _ = client.Fetch(ctx, "pmid:5551")
	if len(rec.Mentions) != 1 {
		t.Errorf("Expected PMID link to match, got %+v", rec.Mentions)
	}
	rec, _ = client.Fetch(ctx, "pmid:555")
	if len(rec.Mentions) != 0 {
		t.Errorf("PMID prefix must not match, got %+v", rec.Mentions)
	}
	rec, _ = client.Fetch(ctx, "10.1000/ab")
	if len(rec.Mentions) != 0 {
		t.Errorf("DOI prefix must not match, got %+v", rec.Mentions)
	}

	if pageHits.Load() != 1 {
		t.Errorf("Expected the page to be fetched once, got %d", pageHits.Load())
	}
}

func TestGuidelinesAllPagesFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewGuidelines(newTestFetcher(server, nil), model.GuidelinesConfig{Pages: []string{server.URL + "/a"}}, nil)
	if _, err := client.Fetch(context.Background(), "10.1000/abc"); err == nil || !strings.Contains(err.Error(), "every page failed") {
		t.Errorf("Expected every-page failure, got %v", err)
	}
}

func TestNewClientsSkipsLensWithoutToken(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Sources.Enabled = []string{"lens", "icite", "openalex"}

	clients, err := NewClients(cfg, NewFetcher(http.DefaultClient, cfg.HTTP))
	if err != nil {
		t.Fatalf("NewClients failed: %v", err)
	}

	var names []model.SourceName
	for _, c := range clients {
		names = append(names, c.Name())
	}
	if diff := cmp.Diff([]model.SourceName{model.SourceOpenAlex, model.SourceICite}, names); diff != "" {
		t.Errorf("Clients mismatch (-want +got):\n%s", diff)
	}
}
