package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lox/saddleweather/internal/metrics"
	"github.com/lox/saddleweather/internal/models"
	"github.com/lox/saddleweather/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	// UTC offsets run from -12:00 to +14:00.
	minTZOffsetMinutes = -12 * 60
	maxTZOffsetMinutes = 14 * 60
)

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxListLimit)
	}
	return n, nil
}

// parseTZOffset reads tz_offset as minutes east of UTC. Absent means the provider's zone.
func parseTZOffset(r *http.Request) (*time.Location, error) {
	raw := r.URL.Query().Get("tz_offset")
	if raw == "" {
		return nil, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes < minTZOffsetMinutes || minutes > maxTZOffsetMinutes {
		return nil, fmt.Errorf("tz_offset must be minutes between %d and %d", minTZOffsetMinutes, maxTZOffsetMinutes)
	}
	return time.FixedZone("", minutes*60), nil
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	loc, err := parseTZOffset(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.advisor.Run(r.Context(), loc)
	if err != nil {
		s.writeFailure(w, "forecast", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.advisor.Alerts(r.Context())
	if err != nil {
		s.writeFailure(w, "alerts", err)
		return
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings()
	if err != nil {
		s.writeFailure(w, "settings", err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

// settingsRequest is the writable part of WeatherSettings. Fields left out of a PUT
// body keep their current values.
type settingsRequest struct {
	Latitude               float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude              float64 `json:"longitude" validate:"min=-180,max=180"`
	LocationName           string  `json:"location_name" validate:"required,max=100"`
	RainCutoffInches       float64 `json:"rain_cutoff_inches" validate:"gt=0,lte=10"`
	RainWindowHours        int     `json:"rain_window_hours" validate:"min=1,max=168"`
	ColdAlertTempF         float64 `json:"cold_alert_temp_f" validate:"min=-60,max=80"`
	HeatAlertTempF         float64 `json:"heat_alert_temp_f" validate:"max=140,gtfield=ColdAlertTempF"`
	WindCutoffMph          float64 `json:"wind_cutoff_mph" validate:"gt=0,max=150"`
	HasIndoorArena         bool    `json:"has_indoor_arena"`
	FootingCautionInches   float64 `json:"footing_caution_inches" validate:"gt=0,ltfield=FootingDangerInches"`
	FootingDangerInches    float64 `json:"footing_danger_inches" validate:"gt=0,lte=10"`
	FootingDryHoursPerInch float64 `json:"footing_dry_hours_per_inch" validate:"gt=0"`
	AutoTuneDryingRate     bool    `json:"auto_tune_drying_rate"`
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.store.GetSettings()
	if err != nil {
		s.writeFailure(w, "settings", err)
		return
	}

	req := settingsRequest{
		Latitude:               current.Latitude,
		Longitude:              current.Longitude,
		LocationName:           current.LocationName,
		RainCutoffInches:       current.RainCutoffInches,
		RainWindowHours:        current.RainWindowHours,
		ColdAlertTempF:         current.ColdAlertTempF,
		HeatAlertTempF:         current.HeatAlertTempF,
		WindCutoffMph:          current.WindCutoffMph,
		HasIndoorArena:         current.HasIndoorArena,
		FootingCautionInches:   current.FootingCautionInches,
		FootingDangerInches:    current.FootingDangerInches,
		FootingDryHoursPerInch: current.FootingDryHoursPerInch,
		AutoTuneDryingRate:     current.AutoTuneDryingRate,
	}
	if err := s.decodeAndValidate(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	next := *current
	next.Latitude = req.Latitude
	next.Longitude = req.Longitude
	next.LocationName = req.LocationName
	next.RainCutoffInches = req.RainCutoffInches
	next.RainWindowHours = req.RainWindowHours
	next.ColdAlertTempF = req.ColdAlertTempF
	next.HeatAlertTempF = req.HeatAlertTempF
	next.WindCutoffMph = req.WindCutoffMph
	next.HasIndoorArena = req.HasIndoorArena
	next.FootingCautionInches = req.FootingCautionInches
	next.FootingDangerInches = req.FootingDangerInches
	next.FootingDryHoursPerInch = req.FootingDryHoursPerInch
	next.AutoTuneDryingRate = req.AutoTuneDryingRate

	updated, err := s.store.UpdateSettings(next)
	if err != nil {
		s.writeFailure(w, "settings", err)
		return
	}
	if s.cache != nil {
		s.cache.Invalidate()
	}
	metrics.DryingRate.Set(updated.FootingDryHoursPerInch)
	s.log.Info("api: settings updated", "location", updated.LocationName, "drying_rate", updated.FootingDryHoursPerInch)
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleGetRideSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := s.store.GetRideSlots()
	if err != nil {
		s.writeFailure(w, "ride slots", err)
		return
	}
	if slots == nil {
		slots = []models.RideSlot{}
	}
	s.writeJSON(w, http.StatusOK, slots)
}

type rideSlotRequest struct {
	DayOfWeek int    `json:"day_of_week" validate:"min=0,max=6"`
	StartTime string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string `json:"end_time" validate:"required,datetime=15:04"`
}

type rideSlotsRequest struct {
	Slots []rideSlotRequest `json:"slots" validate:"max=50,dive"`
}

func (s *Server) handlePutRideSlots(w http.ResponseWriter, r *http.Request) {
	var req rideSlotsRequest
	if err := s.decodeAndValidate(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slots := make([]models.RideSlot, 0, len(req.Slots))
	for i, rs := range req.Slots {
		slot := models.RideSlot{
			DayOfWeek: time.Weekday(rs.DayOfWeek),
			StartTime: rs.StartTime,
			EndTime:   rs.EndTime,
		}
		if _, _, err := slot.Minutes(); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("slots[%d]: %v", i, err))
			return
		}
		slots = append(slots, slot)
	}

	saved, err := s.store.ReplaceRideSlots(slots)
	if err != nil {
		s.writeFailure(w, "ride slots", err)
		return
	}
	if saved == nil {
		saved = []models.RideSlot{}
	}
	s.writeJSON(w, http.StatusOK, saved)
}

type feedbackRequest struct {
	Date          string  `json:"date" validate:"required,datetime=2006-01-02"`
	RideSessionID *string `json:"ride_session_id" validate:"omitempty,min=1,max=64"`
	ActualFooting string  `json:"actual_footing" validate:"required,oneof=good soft unsafe"`
}

type feedbackResponse struct {
	*models.FootingFeedback
	Classification models.FeedbackClass `json:"classification,omitempty"`
}

func withClassification(fb *models.FootingFeedback) feedbackResponse {
	resp := feedbackResponse{FootingFeedback: fb}
	if fb.PredictedScore != nil {
		resp.Classification = models.ClassifyFeedback(*fb.PredictedScore, fb.ActualFooting)
	}
	return resp
}

func (s *Server) handleCreateFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := s.decodeAndValidate(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fb, err := s.store.CreateFeedback(req.Date, req.RideSessionID, models.Footing(req.ActualFooting))
	if err != nil {
		s.writeFailure(w, "feedback", err)
		return
	}

	resp := withClassification(fb)
	class := string(resp.Classification)
	if class == "" {
		class = "unpredicted"
	}
	metrics.FeedbackReceived.WithLabelValues(class).Inc()
	s.log.Info("api: feedback recorded", "date", fb.Date, "actual", fb.ActualFooting, "classification", class)

	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	feedback, err := s.store.GetRecentFeedback(limit)
	if err != nil {
		s.writeFailure(w, "feedback", err)
		return
	}
	out := make([]feedbackResponse, 0, len(feedback))
	for i := range feedback {
		out = append(out, withClassification(&feedback[i]))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetAccuracyStats()
	if err != nil {
		s.writeFailure(w, "accuracy", err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.GetSnapshot(chi.URLParam(r, "date"))
	if err != nil {
		s.writeFailure(w, "snapshot", err)
		return
	}
	if snap == nil {
		s.writeError(w, http.StatusNotFound, "no snapshot for that date")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTune(w http.ResponseWriter, r *http.Request) {
	result, err := s.tuner.CheckAndTune()
	if err != nil {
		s.writeFailure(w, "tune", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTuningHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := s.store.GetDryingRateAdjustments(limit)
	if err != nil {
		s.writeFailure(w, "tuning history", err)
		return
	}
	if history == nil {
		history = []models.DryingRateAdjustment{}
	}
	s.writeJSON(w, http.StatusOK, history)
}

type runView struct {
	ID              string     `json:"id"`
	Source          string     `json:"source"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DaysScored      int64      `json:"days_scored"`
	SnapshotsStored int64      `json:"snapshots_stored"`
	Success         bool       `json:"success"`
	Error           string     `json:"error,omitempty"`
}

func toRunView(run store.ScoringRun) runView {
	v := runView{
		ID:              run.ID,
		Source:          run.Source,
		StartedAt:       run.StartedAt,
		DaysScored:      run.DaysScored.Int64,
		SnapshotsStored: run.SnapshotsStored.Int64,
		Success:         run.Success,
		Error:           run.ErrorMessage.String,
	}
	if run.FinishedAt.Valid {
		at := run.FinishedAt.Time
		v.FinishedAt = &at
	}
	return v
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.store.GetRecentScoringRuns(limit)
	if err != nil {
		s.writeFailure(w, "runs", err)
		return
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunView(run))
	}
	s.writeJSON(w, http.StatusOK, out)
}
