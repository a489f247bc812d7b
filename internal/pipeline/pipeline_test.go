package pipeline_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcite/corpuscore/internal/audit"
	"github.com/lexcite/corpuscore/internal/config"
	"github.com/lexcite/corpuscore/internal/generate"
	"github.com/lexcite/corpuscore/internal/integrity"
	"github.com/lexcite/corpuscore/internal/model"
	"github.com/lexcite/corpuscore/internal/pipeline"
	"github.com/lexcite/corpuscore/internal/retrieval"
	"github.com/lexcite/corpuscore/internal/storage"
	"github.com/lexcite/corpuscore/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		panic(err)
	}
	testDB = db
	defer testDB.Close(context.Background())

	os.Exit(m.Run())
}

// fakeChatServer stands in for an OpenAI-compatible chat completions
// endpoint, echoing back a fixed quote-first answer referencing the first
// excerpt it's handed.
func fakeChatServer(t *testing.T, opinionID string, page int, quote string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		answer := "The court addressed the issue directly. " +
			`<!--CITE:` + opinionID + `|` + strconv.Itoa(page) + `|"` + quote + `"-->`
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": answer}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func seedOpinionWithPage(t *testing.T, caseName, text string) (opinionID string, page int) {
	t.Helper()
	ctx := context.Background()

	o := model.Opinion{
		CaseName:      caseName,
		ReleaseDate:   time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC),
		Court:         model.CourtSCOTUS,
		Precedential:  true,
		ContentHash:   caseName + "-hash-" + time.Now().String(),
		PDFURL:        "https://example.com/op.pdf",
		CitationCount: 5,
		IngestSource:  "courtlistener_api:scotus",
		DocUpdatedAt:  time.Now().UTC(),
	}
	id, err := testDB.UpsertOpinion(ctx, o)
	require.NoError(t, err)

	p := model.Page{OpinionID: id, PageNumber: 1, Text: text}
	require.NoError(t, testDB.InsertPages(ctx, []model.Page{p}))

	return id.String(), 1
}

func newPipeline(t *testing.T, chatBaseURL string) *pipeline.Pipeline {
	t.Helper()
	cfg := config.Config{ChatModel: "gpt-4o-mini"}
	retriever := retrieval.New(testDB)
	recorder := audit.NewRecorder(testDB, testutil.TestLogger())
	versionCache := integrity.NewCache(time.Minute)
	genClient := generate.NewClient(chatBaseURL, "test-key", 5*time.Second)

	return pipeline.New(cfg, testDB, retriever, nil, genClient, recorder, versionCache, testutil.TestLogger())
}

func TestQuery_BindsCitationAndRecordsAuditRun(t *testing.T) {
	quote := "we hold that the claims recite a patent ineligible abstract idea"
	opinionID, page := seedOpinionWithPage(t, "Alice Corp. v. CLS Bank Int'l (pipeline fixture)",
		"The court explained the governing framework. We hold that the claims recite a patent ineligible abstract idea, and the generic computer limitations add nothing inventive.")

	server := fakeChatServer(t, opinionID, page, quote)
	defer server.Close()

	p := newPipeline(t, server.URL)

	since := time.Now().Add(-time.Minute)
	resp, err := p.Query(context.Background(), model.QueryRequest{Question: "what did the court hold about abstract ideas"})
	require.NoError(t, err)

	require.Len(t, resp.Sources, 1)
	assert.Equal(t, model.TierStrong, resp.Sources[0].Tier)
	assert.Contains(t, resp.Answer, "[S1]")
	assert.Equal(t, 1, resp.CitationSummary.VerifiedCitations)
	assert.NotEmpty(t, resp.ConversationID)

	runs, err := testDB.RecentQueryRuns(context.Background(), since, 50)
	require.NoError(t, err)
	found := false
	for _, r := range runs {
		if r.UserQuery == "what did the court hold about abstract ideas" {
			found = true
		}
	}
	assert.True(t, found, "query run should be recorded")
}

func TestQuery_NoCandidatesReturnsNotFound(t *testing.T) {
	server := fakeChatServer(t, "unused", 1, "unused")
	defer server.Close()

	p := newPipeline(t, server.URL)

	resp, err := p.Query(context.Background(), model.QueryRequest{Question: "a question matching absolutely nothing in the corpus zzzqqq"})
	require.NoError(t, err)
	assert.Equal(t, "NOT FOUND IN PROVIDED OPINIONS.", resp.Answer)
	assert.Empty(t, resp.Sources)
}

func TestStream_EmitsConversationIDTokensThenDone(t *testing.T) {
	quote := "we hold that the claims recite a patent ineligible abstract idea"
	opinionID, page := seedOpinionWithPage(t, "Alice Corp. v. CLS Bank Int'l (stream fixture)",
		"The court explained the governing framework. We hold that the claims recite a patent ineligible abstract idea in this streamed answer.")

	server := fakeChatServer(t, opinionID, page, quote)
	defer server.Close()

	p := newPipeline(t, server.URL)

	var events []model.StreamEvent
	err := p.Stream(context.Background(), model.QueryRequest{Question: "what did the court hold about abstract ideas in streaming"}, func(e model.StreamEvent) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "conversation_id", events[0].Type)
	assert.Equal(t, "done", events[len(events)-1].Type)

	hasSources := false
	for _, e := range events {
		if e.Type == "sources" {
			hasSources = true
		}
	}
	assert.True(t, hasSources)
}
