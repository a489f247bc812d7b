package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcite/corpuscore/internal/model"
	"github.com/lexcite/corpuscore/internal/retrieval"
)

type fakeQueryService struct {
	resp      model.QueryResponse
	err       error
	streamErr error
	events    []model.StreamEvent
}

func (f *fakeQueryService) Query(_ context.Context, _ model.QueryRequest) (model.QueryResponse, error) {
	return f.resp, f.err
}

func (f *fakeQueryService) Stream(_ context.Context, _ model.QueryRequest, emit func(model.StreamEvent) error) error {
	for _, e := range f.events {
		if err := emit(e); err != nil {
			return err
		}
	}
	return f.streamErr
}

type fakeSearchService struct {
	resp model.SearchResponse
	err  error

	advResp model.AdvancedSearchResponse
	advErr  error
}

func (f *fakeSearchService) Search(_ context.Context, _ string, _ model.SearchMode, _ int) (model.SearchResponse, error) {
	return f.resp, f.err
}

func (f *fakeSearchService) AdvancedSearch(_ context.Context, _ retrieval.AdvancedSearchParams) (model.AdvancedSearchResponse, error) {
	return f.advResp, f.advErr
}

type fakeReplayService struct {
	packet model.ReplayPacket
	err    error
}

func (f *fakeReplayService) ReplayPacket(_ context.Context, _ string) (model.ReplayPacket, error) {
	return f.packet, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHandleQuery_ReturnsAnswerAndSources(t *testing.T) {
	h := &Handlers{
		query: &fakeQueryService{resp: model.QueryResponse{Answer: "We hold that... [S1]", Sources: []model.Source{{SID: "S1"}}, ConversationID: "c1"}},
		logger: testLogger(),
		maxRequestBodyBytes: 1 << 20,
	}

	body, _ := json.Marshal(model.QueryRequest{Question: "what is Alice"})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.HandleQuery(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp model.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "c1", resp.ConversationID)
	assert.Equal(t, "We hold that... [S1]", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "S1", resp.Sources[0].SID)
}

func TestHandleQuery_MissingQuestionIs400(t *testing.T) {
	h := &Handlers{query: &fakeQueryService{}, logger: testLogger(), maxRequestBodyBytes: 1 << 20}

	body, _ := json.Marshal(model.QueryRequest{})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.HandleQuery(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleQuery_ServiceErrorIs500WithoutLeakingDetail(t *testing.T) {
	h := &Handlers{query: &fakeQueryService{err: assertErr("boom")}, logger: testLogger(), maxRequestBodyBytes: 1 << 20}

	body, _ := json.Marshal(model.QueryRequest{Question: "what is Alice"})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.HandleQuery(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestHandleChatStream_EmitsNDJSONEvents(t *testing.T) {
	h := &Handlers{
		query: &fakeQueryService{events: []model.StreamEvent{
			{Type: "conversation_id", ConversationID: "c1"},
			{Type: "token", Token: "hello "},
			{Type: "done"},
		}},
		logger:              testLogger(),
		maxRequestBodyBytes: 1 << 20,
	}

	body, _ := json.Marshal(model.QueryRequest{Question: "what is Alice"})
	req := httptest.NewRequest(http.MethodPost, "/chat/stream", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.HandleChatStream(w, req)

	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
	lines := bytes.Split(bytes.TrimSpace(w.Body.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)

	var first model.StreamEvent
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "conversation_id", first.Type)
}

func TestHandleSearch_RequiresQuery(t *testing.T) {
	h := &Handlers{search: &fakeSearchService{}, logger: testLogger()}

	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	w := httptest.NewRecorder()

	h.HandleSearch(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSearch_RejectsInvalidMode(t *testing.T) {
	h := &Handlers{search: &fakeSearchService{}, logger: testLogger()}

	req := httptest.NewRequest(http.MethodGet, "/search?q=alice&mode=bogus", nil)
	w := httptest.NewRecorder()

	h.HandleSearch(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSearch_DefaultsModeAndLimit(t *testing.T) {
	h := &Handlers{
		search: &fakeSearchService{resp: model.SearchResponse{Results: nil}},
		logger: testLogger(),
	}

	req := httptest.NewRequest(http.MethodGet, "/search?q=alice", nil)
	w := httptest.NewRecorder()

	h.HandleSearch(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleAdvancedSearch_RequiresQuery(t *testing.T) {
	h := &Handlers{search: &fakeSearchService{}, logger: testLogger()}

	req := httptest.NewRequest(http.MethodGet, "/advanced-search", nil)
	w := httptest.NewRecorder()

	h.HandleAdvancedSearch(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAdvancedSearch_RejectsNonBooleanExcludeR36(t *testing.T) {
	h := &Handlers{search: &fakeSearchService{}, logger: testLogger()}

	req := httptest.NewRequest(http.MethodGet, "/advanced-search?q=alice&exclude_r36=maybe", nil)
	w := httptest.NewRecorder()

	h.HandleAdvancedSearch(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAdvancedSearch_ReturnsResponseBody(t *testing.T) {
	h := &Handlers{
		search: &fakeSearchService{advResp: model.AdvancedSearchResponse{
			Query:      "alice",
			Results:    []model.SearchHit{{OpinionID: "op-1", CaseName: "Alice Corp. v. CLS Bank Int'l"}},
			NextCursor: "abc",
		}},
		logger: testLogger(),
	}

	req := httptest.NewRequest(http.MethodGet, "/advanced-search?q=alice&author=Judge+Moore&forum=CAFC&exclude_r36=true&limit=5&cursor=xyz", nil)
	w := httptest.NewRecorder()

	h.HandleAdvancedSearch(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.AdvancedSearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.Query)
	assert.Equal(t, "abc", resp.NextCursor)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "op-1", resp.Results[0].OpinionID)
}

func TestHandleReplayPacket_ReturnsPacket(t *testing.T) {
	h := &Handlers{
		replay: &fakeReplayService{packet: model.ReplayPacket{UserQuery: "what is Alice"}},
		logger: testLogger(),
	}

	req := httptest.NewRequest(http.MethodGet, "/replay-packet/abc", nil)
	req.SetPathValue("run_id", "abc")
	w := httptest.NewRecorder()

	h.HandleReplayPacket(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
