//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/bloomfeed/publish-queue/internal/domain"
	"github.com/bloomfeed/publish-queue/internal/queue"
	queuepostgres "github.com/bloomfeed/publish-queue/internal/queue/postgres"
	"github.com/bloomfeed/publish-queue/internal/testutil"
	"github.com/stretchr/testify/require"
)

// cleanupQueue truncates the queue table so each test starts from an empty
// queue. Registered as t.Cleanup by tests that seed items.
func cleanupQueue(t *testing.T) {
	t.Helper()
	_, err := testDB.Exec(context.Background(), "TRUNCATE publish_queue")
	require.NoError(t, err)
}

func testRepo() queue.Repository {
	return queuepostgres.NewRepository(testDB)
}

// postPayload is a minimal valid publish_post payload.
func postPayload() json.RawMessage {
	return json.RawMessage(`{"media_url":"https://cdn.example.com/photo.jpg","caption":"hello"}`)
}

// enqueueViaAPI enqueues a publish_post item through the HTTP API and returns
// the assigned queue id.
func enqueueViaAPI(t *testing.T, client *testutil.Client, accountID string) string {
	t.Helper()

	resp, err := client.POST("/post-queue", map[string]any{
		"business_account_id": accountID,
		"action_type":         "publish_post",
		"payload":             json.RawMessage(postPayload()),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result struct {
		QueueID string `json:"queue_id"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.NotEmpty(t, result.QueueID)
	return result.QueueID
}

// enqueueDirect inserts an item through the repository, bypassing the API.
func enqueueDirect(t *testing.T, action domain.ActionType, payload json.RawMessage) *queue.Item {
	t.Helper()

	item := &queue.Item{
		BusinessAccountID: "itest-account",
		ActionType:        action,
		Payload:           payload,
	}
	require.NoError(t, testRepo().Enqueue(context.Background(), item))
	return item
}

// seedDLQItem drives an item into the dead-letter state through the normal
// claim and fail path.
func seedDLQItem(t *testing.T, lastError string) *queue.Item {
	t.Helper()
	ctx := context.Background()
	repo := testRepo()

	item := enqueueDirect(t, domain.ActionPublishPost, postPayload())

	claimed, err := repo.ClaimBatch(ctx, 100)
	require.NoError(t, err)
	require.NotEmpty(t, claimed)

	require.NoError(t, repo.MarkDLQ(ctx, item.ID, errString(lastError), queue.CategoryPermanent))

	dead, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusDLQ, dead.Status)
	return dead
}

type errString string

func (e errString) Error() string { return string(e) }
