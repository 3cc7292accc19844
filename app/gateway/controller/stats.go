package controller

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gather-network/gatherx/app/gateway/types"
	"github.com/gather-network/gatherx/app/validator/evaluation"
	"github.com/gather-network/gatherx/pkg/data"
)

const (
	defaultStatsLimit   = 100
	maxStatsLimit       = 1000
	defaultHistoryLimit = 48
)

// statsResponse wraps a stats payload with the snapshot time it came from.
// AsOf is omitted while the validator has not pushed a snapshot yet.
type statsResponse[T any] struct {
	AsOf *time.Time `json:"as_of,omitempty"`
	Data []T        `json:"data"`
}

var errInvalidLimit = &parseError{msg: "invalid limit"}

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }

func parseLimit(r *http.Request, def int) (int, error) {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err != nil || n <= 0 {
			return 0, errInvalidLimit
		} else {
			limit = int(math.Min(float64(n), maxStatsLimit))
		}
	}
	return limit, nil
}

// HandleMinerStats returns the latest per-miner snapshot, largest share of
// advertised bytes first.
func (c *Controller) HandleMinerStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	asOf, err := c.App.StatsDB.LatestSnapshotTime(ctx)
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	rows, err := c.App.StatsDB.LatestMinerStats(ctx)
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]types.MinerStat, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.MinerStat{
			Hotkey:           row.Hotkey,
			Credibility:      row.Credibility,
			BucketCount:      row.BucketCount,
			ContentSizeBytes: row.ContentSizeBytes,
			LastUpdated:      row.LastUpdated,
		})
	}

	resp := statsResponse[types.MinerStat]{Data: out}
	if !asOf.IsZero() {
		resp.AsOf = &asOf
	}
	c.writeJSON(w, http.StatusOK, resp)
}

// HandleLabelStats returns the biggest labels by advertised bytes.
func (c *Controller) HandleLabelStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := parseLimit(r, defaultStatsLimit)
	if err != nil {
		c.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	asOf, err := c.App.StatsDB.LatestSnapshotTime(ctx)
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	rows, err := c.App.StatsDB.LatestLabelStats(ctx, limit)
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]types.LabelStat, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.LabelStat{
			Source:           data.DataSource(row.Source).String(),
			Label:            row.Label,
			ContentSizeBytes: row.ContentSizeBytes,
		})
	}

	resp := statsResponse[types.LabelStat]{Data: out}
	if !asOf.IsZero() {
		resp.AsOf = &asOf
	}
	c.writeJSON(w, http.StatusOK, resp)
}

// HandleAgeStats returns advertised bytes per hour window and source.
func (c *Controller) HandleAgeStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	asOf, err := c.App.StatsDB.LatestSnapshotTime(ctx)
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	rows, err := c.App.StatsDB.LatestAgeStats(ctx)
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]types.AgeStat, 0, len(rows))
	for _, row := range rows {
		bucket := data.TimeBucket{ID: row.TimeBucketID}
		out = append(out, types.AgeStat{
			Source:           data.DataSource(row.Source).String(),
			TimeBucketID:     row.TimeBucketID,
			WindowStart:      bucket.WindowStart(),
			ContentSizeBytes: row.ContentSizeBytes,
		})
	}

	resp := statsResponse[types.AgeStat]{Data: out}
	if !asOf.IsZero() {
		resp.AsOf = &asOf
	}
	c.writeJSON(w, http.StatusOK, resp)
}

// HandleMinerHistory returns the snapshot history for one hotkey, newest
// first. Rows carry their own snapshot_at, so there is no envelope.
func (c *Controller) HandleMinerHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	hotkey := mux.Vars(r)["hotkey"]
	if hotkey == "" {
		c.writeError(w, http.StatusBadRequest, "missing hotkey")
		return
	}

	limit, err := parseLimit(r, defaultHistoryLimit)
	if err != nil {
		c.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c.App.Logger.Debug("Miner history requested",
		zap.String("user", c.currentUser(r)),
		zap.String("hotkey", hotkey))

	rows, err := c.App.StatsDB.MinerHistory(ctx, hotkey, limit)
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if len(rows) == 0 {
		c.writeError(w, http.StatusNotFound, "miner not tracked")
		return
	}

	c.writeJSON(w, http.StatusOK, rows)
}

// HandleRecentEvaluations returns the newest entries of the evaluation log
// stream the validator appends to.
func (c *Controller) HandleRecentEvaluations(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		c.writeError(w, http.StatusServiceUnavailable, "event feed not available (Redis disabled)")
		return
	}

	limit, err := parseLimit(r, defaultStatsLimit)
	if err != nil {
		c.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := c.App.RedisClient.XRevRange(r.Context(), evaluation.EvaluationsLogStream, int64(limit))
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]evaluation.Event, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		var event evaluation.Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			c.App.Logger.Warn("Malformed entry in evaluations stream",
				zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		out = append(out, event)
	}

	c.writeJSON(w, http.StatusOK, out)
}
