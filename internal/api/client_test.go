package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dash-sync/pkg/config"
	"github.com/dash-sync/pkg/models"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewClient(&config.BackendConfig{BaseURL: srv.URL, Token: "tok-1"}, log)
}

func TestGetJob(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/jobs/job-1", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(models.Job{
			ID:     "job-1",
			Status: models.JobStatusCompleted,
			Result: &models.BacktestResult{TotalTrades: 7},
		})
	}))

	job, err := client.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, job.Status)
	require.Equal(t, 7, job.Result.TotalTrades)
}

func TestListJobs(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/jobs", r.URL.Path)
		require.Equal(t, "running", r.URL.Query().Get("status"))
		require.Equal(t, "10", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jobs": []models.Job{{ID: "a"}, {ID: "b"}},
		})
	}))

	jobs, err := client.ListJobs(context.Background(), "running", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

func TestListBacktests(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/backtests", r.URL.Path)
		require.Equal(t, "completed", r.URL.Query().Get("status"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"backtests": []models.Job{{ID: "bt-1"}},
		})
	}))

	backtests, err := client.ListBacktests(context.Background(), "completed", 0)
	require.NoError(t, err)
	require.Len(t, backtests, 1)
	require.Equal(t, "bt-1", backtests[0].ID)
}

func TestListStrategies(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/strategies", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"strategies": []models.Strategy{{ID: "s1", Name: "momentum"}},
		})
	}))

	strategies, err := client.ListStrategies(context.Background())
	require.NoError(t, err)
	require.Len(t, strategies, 1)
	require.Equal(t, "momentum", strategies[0].Name)
}

func TestCreateJob(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req models.CreateJobRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "strat-1", req.StrategyID)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.Job{ID: "new-job", Status: models.JobStatusQueued})
	}))

	job, err := client.CreateJob(context.Background(), models.CreateJobRequest{StrategyID: "strat-1"})
	require.NoError(t, err)
	require.Equal(t, "new-job", job.ID)
}

func TestCancelJob(t *testing.T) {
	var gotPath string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.CancelJob(context.Background(), "job-1"))
	require.Equal(t, "/api/v1/jobs/job-1/cancel", gotPath)
}

func TestDeleteJob(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/v1/jobs/job-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.DeleteJob(context.Background(), "job-1"))
}

func TestGetHistoricalData(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/data/res-1", r.URL.Path)
		require.Equal(t, "1m", r.URL.Query().Get("interval"))
		require.Equal(t, "500", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(models.HistoricalDataResponse{
			ResourceID: "res-1",
			Interval:   "1m",
			Points:     []models.HistoricalDataPoint{{Time: 1}, {Time: 2}},
			Count:      2,
		})
	}))

	resp, err := client.GetHistoricalData(context.Background(), "res-1", "1m", 500, "")
	require.NoError(t, err)
	require.Len(t, resp.Points, 2)
}

func TestListCredentials(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/credentials", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"credentials": []models.BrokerCredential{
				{ID: "c1", Broker: "zerodha", APIKeyMasked: "ab****yz", Connected: true},
			},
		})
	}))

	creds, err := client.ListCredentials(context.Background())
	require.NoError(t, err)
	require.Len(t, creds, 1)
	require.Equal(t, "zerodha", creds[0].Broker)
}

func TestInitiateOAuth(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/oauth/zerodha/initiate", r.URL.Path)
		json.NewEncoder(w).Encode(models.OAuthSession{
			Broker:   "zerodha",
			Status:   "pending",
			LoginURL: "https://kite.example/connect/login",
		})
	}))

	session, err := client.InitiateOAuth(context.Background(), "zerodha")
	require.NoError(t, err)
	require.Equal(t, "pending", session.Status)
	require.NotEmpty(t, session.LoginURL)
}

func TestErrorEnvelope(t *testing.T) {
	t.Run("structured error", func(t *testing.T) {
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "job not found"})
		}))

		_, err := client.GetJob(context.Background(), "missing")
		require.ErrorContains(t, err, "job not found")
		require.ErrorContains(t, err, "404")
	})

	t.Run("opaque error body", func(t *testing.T) {
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gateway timeout", http.StatusBadGateway)
		}))

		_, err := client.GetJob(context.Background(), "job-1")
		require.ErrorContains(t, err, "502")
	})
}
