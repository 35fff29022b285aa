package inverter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/guivega7/Goodwe-Challenge/pkg/common"
	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/metrics"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

const (
	semsLoginPath = "v2/common/crosslogin"
	semsDataPath  = "PowerStationMonitor/GetInverterDataByColumn"

	semsOrigin = "https://semsportal.com"

	// Codes the portal signals inside its always-200 responses.
	semsCodeOK             = "0"
	semsCodeRegionMismatch = "100002"
)

// SEMS reads inverter data from the GoodWe SEMS portal. The portal splits
// accounts across regional clusters and the cluster that accepts the login is
// not always the one that serves the data, so the client tracks both and
// follows the portal's redirection hints.
type SEMS struct {
	client   *http.Client
	baseURLs map[types.Region]string

	mu          sync.Mutex
	account     string
	password    string
	serial      string
	loginRegion types.Region
	dataRegion  types.Region
	tokenStr    string
	dataBaseURL string // portal-supplied override, always ends with a slash
	settings    types.Settings
}

func newSEMS() *SEMS {
	return &SEMS{
		client: common.HTTPClient(time.Minute),
		baseURLs: map[types.Region]string{
			types.RegionUS: "https://us.semsportal.com/api/",
			types.RegionEU: "https://eu.semsportal.com/api/",
		},
	}
}

// ApplySettings saves the current system settings for use by later calls.
func (s *SEMS) ApplySettings(ctx context.Context, settings types.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

// Authenticate validates the serial locally, then logs in to the portal unless
// a usable session token was carried over in creds. After a fresh login the
// token and any corrected regions are written back into creds so the caller
// can persist them.
func (s *SEMS) Authenticate(ctx context.Context, creds types.Credentials) (types.Credentials, bool, error) {
	if creds.SEMS == nil {
		return creds, false, errors.New("missing sems credentials")
	}
	if err := ValidateSerial(creds.SEMS.Serial); err != nil {
		return creds, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed bool

	s.serial = creds.SEMS.Serial
	s.loginRegion = types.ParseRegion(creds.SEMS.LoginRegion)
	if creds.SEMS.DataRegion != "" {
		s.dataRegion = types.ParseRegion(creds.SEMS.DataRegion)
	}

	// A fresh login is only needed when there is no cached token or the
	// account credentials changed since we last verified them.
	needLogin := creds.SEMS.Token == ""
	if !needLogin && s.account != "" {
		needLogin = s.account != creds.SEMS.Account || s.password != creds.SEMS.Password
	}

	s.account = creds.SEMS.Account
	s.password = creds.SEMS.Password

	if needLogin {
		log.Ctx(ctx).DebugContext(ctx, "logging in to sems")
		if err := s.login(ctx); err != nil {
			return creds, false, err
		}
		creds.SEMS.Token = s.tokenStr
		changed = true
	} else {
		log.Ctx(ctx).DebugContext(ctx, "restored sems session from cache")
		s.tokenStr = creds.SEMS.Token
	}

	if lr := string(s.loginRegion); creds.SEMS.LoginRegion != lr {
		creds.SEMS.LoginRegion = lr
		changed = true
	}
	if dr := string(s.dataRegion); dr != "" && creds.SEMS.DataRegion != dr {
		creds.SEMS.DataRegion = dr
		changed = true
	}

	return creds, changed, nil
}

// handshakeEnvelope is the pre-login token the portal expects base64-encoded
// in the Token header. The uid and token fields stay empty until a session
// exists.
type handshakeEnvelope struct {
	UID       string `json:"uid"`
	Timestamp int64  `json:"timestamp"`
	Token     string `json:"token"`
	Client    string `json:"client"`
	Version   string `json:"version"`
	Language  string `json:"language"`
}

func newHandshakeEnvelope(now time.Time) handshakeEnvelope {
	return handshakeEnvelope{
		Timestamp: now.UnixMilli(),
		Client:    "web",
		Language:  "en",
	}
}

func (e handshakeEnvelope) encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeHandshakeEnvelope(s string) (handshakeEnvelope, error) {
	var e handshakeEnvelope
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return e, err
	}
	err = json.Unmarshal(b, &e)
	return e, err
}

// semsCode normalizes the portal's code field, which shows up as both a JSON
// number and a string depending on the endpoint.
type semsCode string

func (c *semsCode) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*c = semsCode(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*c = semsCode(s)
	return nil
}

// semsResponse is the portal's reply envelope. Transport status is 200 for
// failures too, so the body is the only failure signal.
type semsResponse struct {
	HasError   bool            `json:"hasError"`
	Code       semsCode        `json:"code"`
	Msg        string          `json:"msg"`
	Data       json.RawMessage `json:"data"`
	Components struct {
		API string `json:"api"`
	} `json:"components"`
}

func (r semsResponse) failed() bool {
	return r.HasError || (r.Code != "" && r.Code != semsCodeOK)
}

type semsLoginBody struct {
	Account   string `json:"account"`
	Pwd       string `json:"pwd"`
	ValidCode string `json:"validCode"`
	IsLocal   bool   `json:"is_local"`
	Timestamp int64  `json:"timestamp"`
	Agreement int    `json:"agreement_agreement"`
}

// login performs the crosslogin handshake. A region mismatch (code 100002) is
// retried exactly once against the alternate region; any other portal code is
// surfaced as an AuthError without further attempts.
func (s *SEMS) login(ctx context.Context) error {
	if s.account == "" {
		return errors.New("missing account")
	}
	if s.password == "" {
		return errors.New("missing password")
	}

	region := s.loginRegion
	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.tryLogin(ctx, region)
		if err != nil {
			metrics.SEMSRequests.WithLabelValues("login", metrics.ResultError).Inc()
			return err
		}

		if res.failed() {
			if res.Code == semsCodeRegionMismatch && attempt == 0 {
				log.Ctx(ctx).WarnContext(ctx, "sems region mismatch, retrying alternate",
					slog.String("region", string(region)),
					slog.String("alternate", string(region.Alternate())))
				region = region.Alternate()
				continue
			}
			metrics.SEMSRequests.WithLabelValues("login", metrics.ResultError).Inc()
			log.Ctx(ctx).ErrorContext(ctx, "sems login rejected",
				slog.String("code", string(res.Code)), slog.String("msg", res.Msg))
			return &AuthError{Code: string(res.Code), Message: res.Msg}
		}

		if len(res.Data) == 0 || string(res.Data) == "null" {
			metrics.SEMSRequests.WithLabelValues("login", metrics.ResultError).Inc()
			return &AuthError{Message: "login response missing data"}
		}

		// The whole login payload, re-encoded, becomes the session token the
		// data endpoints expect in their Token header.
		s.loginRegion = region
		s.tokenStr = base64.StdEncoding.EncodeToString(res.Data)
		s.applyLoginData(ctx, res.Data)
		metrics.SEMSRequests.WithLabelValues("login", metrics.ResultOK).Inc()
		log.Ctx(ctx).DebugContext(ctx, "sems login success",
			slog.String("loginRegion", string(s.loginRegion)),
			slog.String("dataRegion", string(s.dataRegion)))
		return nil
	}
	return &AuthError{Code: semsCodeRegionMismatch, Message: "no region accepted the login"}
}

func (s *SEMS) tryLogin(ctx context.Context, region types.Region) (semsResponse, error) {
	handshake, err := newHandshakeEnvelope(time.Now()).encode()
	if err != nil {
		return semsResponse{}, err
	}

	body := semsLoginBody{
		Account:   s.account,
		Pwd:       s.password,
		Timestamp: time.Now().UnixMilli(),
	}
	req, err := s.newPostJSONRequest(ctx, s.baseURLs[region], semsLoginPath, body)
	if err != nil {
		return semsResponse{}, err
	}
	req.Header.Set("Token", handshake)
	req.Header.Set("Origin", semsOrigin)
	req.Header.Set("Referer", semsOrigin+"/")

	res, err := s.doRequest(req)
	if err != nil {
		return semsResponse{}, wrapTimeout("login", err)
	}
	return res, nil
}

// semsLoginData is the subset of the login payload used to locate the cluster
// serving this account's data.
type semsLoginData struct {
	API       string `json:"api"`
	APIDomain string `json:"apiDomain"`
	Server    string `json:"server"`
}

// applyLoginData inspects the login payload for hints about the account's data
// region. The portal sometimes hands back a full api base (occasionally on a
// nonstandard port) that must be used as-is for data calls.
func (s *SEMS) applyLoginData(ctx context.Context, data json.RawMessage) {
	var ld semsLoginData
	if err := json.Unmarshal(data, &ld); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "unparseable sems login data", slog.Any("error", err))
		return
	}
	for _, v := range []string{ld.API, ld.APIDomain, ld.Server} {
		if v == "" {
			continue
		}
		host := strings.ToLower(v)
		if strings.Contains(host, "eu") {
			s.dataRegion = types.RegionEU
		} else if strings.Contains(host, "us") {
			s.dataRegion = types.RegionUS
		}
		if base, ok := cutMonitorBase(v); ok {
			s.dataBaseURL = base
			log.Ctx(ctx).InfoContext(ctx, "sems supplied a data base override", slog.String("base", base))
		}
	}
}

// cutMonitorBase extracts the api base from a value like
// "https://eu.semsportal.com:82/api/PowerStationMonitor/...".
func cutMonitorBase(v string) (string, bool) {
	before, _, ok := strings.Cut(v, "PowerStationMonitor")
	if !ok {
		return "", false
	}
	if !strings.HasSuffix(before, "/") {
		before += "/"
	}
	return before, true
}

// dataBase returns the base URL for data calls, preferring the portal's
// override, then the detected data region, then the login region.
func (s *SEMS) dataBase() string {
	if s.dataBaseURL != "" {
		return s.dataBaseURL
	}
	if s.dataRegion != "" {
		return s.baseURLs[s.dataRegion]
	}
	return s.baseURLs[s.loginRegion]
}

// ensureLogin logs in only when no session token is cached. The portal does
// not report token lifetime, so expiry is only ever discovered by a data call
// coming back with a session error.
func (s *SEMS) ensureLogin(ctx context.Context) error {
	if s.tokenStr != "" {
		return nil
	}
	return s.login(ctx)
}

func (s *SEMS) newPostJSONRequest(ctx context.Context, base, endpoint string, data interface{}) (*http.Request, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// doRequest runs the request and decodes the portal envelope. The portal
// answers 200 for failures too, so callers must still check the envelope.
func (s *SEMS) doRequest(req *http.Request) (semsResponse, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return semsResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return semsResponse{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return semsResponse{}, err
	}

	var sr semsResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		log.Ctx(req.Context()).ErrorContext(req.Context(), "failed to decode sems response",
			slog.Any("error", err), slog.String("body", string(body)))
		return semsResponse{}, err
	}
	return sr, nil
}

// semsFloat tolerates the portal's habit of switching between numbers,
// numeric strings, and null for the same field.
type semsFloat float64

func (f *semsFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = 0
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		v, err := n.Float64()
		if err != nil {
			return err
		}
		*f = semsFloat(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = semsFloat(v)
	return nil
}

// semsColumnData is the data payload of a column fetch. The series arrives
// under column1 regardless of which column was requested.
type semsColumnData struct {
	Column1 []semsColumnPoint `json:"column1"`
}

type semsColumnPoint struct {
	Date  string    `json:"date"`
	Value semsFloat `json:"column"`
}

// Timestamps arrive in a couple of layouts depending on the portal locale.
var semsPointLayouts = []string{
	"2006-01-02 15:04:05",
	"01/02/2006 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

func parseSEMSTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range semsPointLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseColumnSeries(ctx context.Context, data json.RawMessage) ([]types.Point, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var cd semsColumnData
	if err := json.Unmarshal(data, &cd); err != nil {
		// some endpoints hand back a bare array instead of the wrapper
		var pts []semsColumnPoint
		if err2 := json.Unmarshal(data, &pts); err2 != nil {
			return nil, err
		}
		cd.Column1 = pts
	}

	points := make([]types.Point, 0, len(cd.Column1))
	for _, p := range cd.Column1 {
		ts, err := parseSEMSTime(p.Date)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping point with unparseable date", slog.String("date", p.Date))
			continue
		}
		points = append(points, types.Point{Time: ts, Value: float64(p.Value)})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Time.Before(points[j].Time)
	})
	return points, nil
}

// fetchColumn retrieves one metric's series for a single calendar day. A
// session-expired reply costs one re-login before the request is retried; a
// base suggested by the portal alongside the expiry is adopted for the retry.
func (s *SEMS) fetchColumn(ctx context.Context, metric types.Metric, day time.Time) ([]types.Point, error) {
	payload := struct {
		ID     string `json:"id"`
		Date   string `json:"date"`
		Column string `json:"column"`
	}{
		ID:     s.serial,
		Date:   day.Format("2006-01-02") + " 00:00:00",
		Column: string(metric),
	}

	for i := 0; i < 2; i++ {
		if err := s.ensureLogin(ctx); err != nil {
			return nil, err
		}

		req, err := s.newPostJSONRequest(ctx, s.dataBase(), semsDataPath, payload)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Token", s.tokenStr)

		res, err := s.doRequest(req)
		if err != nil {
			metrics.SEMSRequests.WithLabelValues("data", metrics.ResultError).Inc()
			return nil, wrapTimeout("fetch "+string(metric), err)
		}

		if res.failed() {
			if res.Code == semsCodeRegionMismatch && i == 0 {
				if base, ok := cutMonitorBase(res.Components.API); ok {
					s.dataBaseURL = base
					log.Ctx(ctx).InfoContext(ctx, "sems suggested a new data base", slog.String("base", base))
				}
				log.Ctx(ctx).DebugContext(ctx, "sems session expired", slog.String("metric", string(metric)))
				s.tokenStr = ""
				continue
			}
			metrics.SEMSRequests.WithLabelValues("data", metrics.ResultError).Inc()
			log.Ctx(ctx).ErrorContext(ctx, "sems data fetch failed",
				slog.String("metric", string(metric)),
				slog.String("code", string(res.Code)), slog.String("msg", res.Msg))
			return nil, &RemoteError{Code: string(res.Code), Message: res.Msg}
		}

		metrics.SEMSRequests.WithLabelValues("data", metrics.ResultOK).Inc()
		return parseColumnSeries(ctx, res.Data)
	}
	return nil, &RemoteError{Code: semsCodeRegionMismatch, Message: "session rejected after re-login"}
}

// Status fetches today's instantaneous power and battery level. The portal has
// no dedicated status endpoint, so this reads the tail of today's series.
func (s *SEMS) Status(ctx context.Context) (types.InverterStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ValidateSerial(s.serial); err != nil {
		return types.InverterStatus{}, err
	}

	now := time.Now()
	st := types.InverterStatus{
		Serial:     s.serial,
		UpdatedAt:  now,
		State:      types.InverterStateStandby,
		Provenance: types.ProvenanceEmpty,
	}

	var sawPoints bool
	for _, m := range []types.Metric{types.MetricPVPower, types.MetricACPower, types.MetricBatterySOC} {
		points, err := s.fetchColumn(ctx, m, now)
		if err != nil {
			return types.InverterStatus{}, err
		}
		if len(points) == 0 {
			continue
		}
		sawPoints = true
		last := points[len(points)-1].Value
		switch m {
		case types.MetricPVPower:
			st.PVPowerW = last
		case types.MetricACPower:
			st.ACPowerW = last
		case types.MetricBatterySOC:
			st.BatterySOC = last
		}
	}
	if st.ACPowerW > 0 {
		st.State = types.InverterStateOperating
	}
	if sawPoints {
		st.Online = true
		st.Provenance = types.ProvenanceLive
	}
	return st, nil
}

// Aggregate builds the dashboard view: today's power and energy plus one row
// per day in rng. Metrics that come back with zero points keep a zero count in
// PointCounts, which is how callers tell "no generation recorded" apart from
// a fetch that failed outright.
func (s *SEMS) Aggregate(ctx context.Context, rng types.DateRange) (types.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ValidateSerial(s.serial); err != nil {
		return types.Aggregate{}, err
	}

	now := time.Now()
	agg := types.Aggregate{
		Serial:             s.serial,
		GeneratedAt:        now,
		BatteryCapacityKWH: s.settings.BatteryCapacityKWH,
		BatteryState:       types.BatteryStateStandby,
		PointCounts:        make(map[types.Metric]int),
	}

	for _, m := range []types.Metric{types.MetricACPower, types.MetricPVPower, types.MetricBatterySOC, types.MetricDayEnergy} {
		points, err := s.fetchColumn(ctx, m, now)
		if err != nil {
			return types.Aggregate{}, err
		}
		agg.PointCounts[m] += len(points)
		if len(points) == 0 {
			continue
		}
		last := points[len(points)-1].Value
		switch m {
		case types.MetricACPower:
			agg.ACPowerW = last
		case types.MetricPVPower:
			agg.PVPowerW = last
		case types.MetricBatterySOC:
			agg.BatterySOC = last
		case types.MetricDayEnergy:
			agg.EnergyTodayKWH = last
		}
	}
	if agg.ACPowerW > 0 {
		agg.BatteryState = types.BatteryStateCharging
	}

	for _, day := range rng.Days() {
		da, err := s.fetchDay(ctx, day, &agg)
		if err != nil {
			return types.Aggregate{}, err
		}
		agg.History = append(agg.History, da)
	}

	var total int
	for _, n := range agg.PointCounts {
		total += n
	}
	if total > 0 {
		agg.Provenance = types.ProvenanceLive
	} else {
		agg.Provenance = types.ProvenanceEmpty
	}
	return agg, nil
}

// fetchDay assembles one history row from the day's energy and battery series.
func (s *SEMS) fetchDay(ctx context.Context, day time.Time, agg *types.Aggregate) (types.DayAggregate, error) {
	da := types.DayAggregate{
		Date:    day.Format("2006-01-02"),
		Weekday: day.Weekday().String(),
	}

	eday, err := s.fetchColumn(ctx, types.MetricDayEnergy, day)
	if err != nil {
		return da, err
	}
	agg.PointCounts[types.MetricDayEnergy] += len(eday)
	if len(eday) > 0 {
		// eday is cumulative, the day's total is the last sample
		da.GenerationKWH = eday[len(eday)-1].Value
	}

	soc, err := s.fetchColumn(ctx, types.MetricBatterySOC, day)
	if err != nil {
		return da, err
	}
	agg.PointCounts[types.MetricBatterySOC] += len(soc)
	if len(soc) > 0 {
		var sum float64
		for _, p := range soc {
			sum += p.Value
		}
		da.AvgBatterySOC = sum / float64(len(soc))
	}

	da.ConsumptionKWH = da.GenerationKWH * s.settings.ConsumptionFactor
	da.Savings = da.GenerationKWH * s.settings.TariffPerKWH
	return da, nil
}

// Intraday returns the day's full power and battery series for charting.
func (s *SEMS) Intraday(ctx context.Context, day time.Time) (types.IntradaySeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ValidateSerial(s.serial); err != nil {
		return types.IntradaySeries{}, err
	}

	out := types.IntradaySeries{
		Date:       day.Format("2006-01-02"),
		Provenance: types.ProvenanceEmpty,
	}

	power, err := s.fetchColumn(ctx, types.MetricACPower, day)
	if err != nil {
		return types.IntradaySeries{}, err
	}
	out.Power = power

	soc, err := s.fetchColumn(ctx, types.MetricBatterySOC, day)
	if err != nil {
		return types.IntradaySeries{}, err
	}
	out.BatterySOC = soc

	if len(power) > 0 || len(soc) > 0 {
		out.Provenance = types.ProvenanceLive
	}
	return out, nil
}
