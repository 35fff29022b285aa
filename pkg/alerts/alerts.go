// Package alerts delivers push notifications through IFTTT webhooks. Each
// alert is a named event posted to the maker endpoint; the user's applets
// decide what happens on the phone side.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guivega7/Goodwe-Challenge/pkg/common"
	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/metrics"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// DefaultBaseURL is the IFTTT maker webhook endpoint.
const DefaultBaseURL = "https://maker.ifttt.com"

// Event names the user's applets subscribe to. These are wire identifiers,
// renaming one breaks every applet bound to it.
const (
	EventLowBattery    = "low_battery"
	EventInverterFault = "falha_inversor"
	EventDailySummary  = "resumo_diario"
	EventHighEnergy    = "high_energy"
	EventMaintenance   = "manutencao"
	EventPowerOff      = "desligar"
)

// Events lists every known event name.
var Events = []string{
	EventLowBattery,
	EventInverterFault,
	EventDailySummary,
	EventHighEnergy,
	EventMaintenance,
	EventPowerOff,
}

// KnownEvent reports whether event is one of the names in Events.
func KnownEvent(event string) bool {
	for _, e := range Events {
		if e == event {
			return true
		}
	}
	return false
}

// Client triggers IFTTT maker webhook events.
type Client struct {
	client  *http.Client
	baseURL string
	key     string
}

// NewClient returns a client bound to the given webhook key.
func NewClient(creds types.IFTTTCredentials) (*Client, error) {
	if creds.Key == "" {
		return nil, errors.New("missing ifttt webhook key")
	}
	return &Client{
		client:  common.HTTPClient(10 * time.Second),
		baseURL: DefaultBaseURL,
		key:     creds.Key,
	}, nil
}

type triggerBody struct {
	Value1 string `json:"value1"`
}

// Trigger posts an event to the maker endpoint. The endpoint answers 200
// regardless of whether any applet is bound to the event, so a 200 only means
// IFTTT accepted it.
func (c *Client) Trigger(ctx context.Context, event, message string) (err error) {
	if event == "" {
		return errors.New("missing event name")
	}
	defer func() {
		metrics.AlertsSent.WithLabelValues(event, metrics.ResultLabel(err)).Inc()
	}()

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parsing base url: %w", err)
	}
	u.Path, err = url.JoinPath(u.Path, "trigger", event, "with", "key", c.key)
	if err != nil {
		return fmt.Errorf("building trigger url: %w", err)
	}

	body, err := json.Marshal(triggerBody{Value1: message})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Ctx(ctx).DebugContext(ctx, "triggering webhook",
		slog.String("event", event))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending trigger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// 4xx bodies carry an errors array worth surfacing.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// LowBattery alerts when soc has dropped below threshold. Returns whether an
// alert was fired.
func (c *Client) LowBattery(ctx context.Context, soc, threshold float64) (bool, error) {
	if soc >= threshold {
		return false, nil
	}
	if err := c.Trigger(ctx, EventLowBattery, LowBatteryMessage(soc)); err != nil {
		return false, err
	}
	return true, nil
}

// HighEnergy alerts when consumption exceeds the configured limit. Returns
// whether an alert was fired.
func (c *Client) HighEnergy(ctx context.Context, consumptionKWH, limitKWH float64) (bool, error) {
	if limitKWH <= 0 || consumptionKWH <= limitKWH {
		return false, nil
	}
	if err := c.Trigger(ctx, EventHighEnergy, HighEnergyMessage(consumptionKWH, limitKWH)); err != nil {
		return false, err
	}
	return true, nil
}

// InverterFault reports a system failure.
func (c *Client) InverterFault(ctx context.Context, description string) error {
	return c.Trigger(ctx, EventInverterFault, FaultMessage(description))
}

// DailySummary sends the end-of-day report.
func (c *Client) DailySummary(ctx context.Context, report types.EnergyReport) error {
	return c.Trigger(ctx, EventDailySummary, DailySummaryMessage(report))
}

// MaintenanceMessage is the fixed preventive maintenance reminder.
const MaintenanceMessage = "Manutenção preventiva recomendada para o sistema solar!"

// LowBatteryMessage formats the low battery notification.
func LowBatteryMessage(soc float64) string {
	return fmt.Sprintf("Atenção! Nível da bateria está baixo: %.0f%%", soc)
}

// HighEnergyMessage formats the over-limit consumption notification with how
// far above the limit the day ran.
func HighEnergyMessage(consumptionKWH, limitKWH float64) string {
	percent := (consumptionKWH/limitKWH - 1) * 100
	return fmt.Sprintf("Alerta de consumo elevado! Consumo atual: %.1fkWh (%.0f%% acima do ideal). Sugerimos desligar aparelhos não essenciais.",
		consumptionKWH, percent)
}

// FaultMessage formats the system failure notification.
func FaultMessage(description string) string {
	return fmt.Sprintf("Alerta de falha no sistema: %s", description)
}

// DailySummaryMessage formats the end-of-day report notification.
func DailySummaryMessage(report types.EnergyReport) string {
	return fmt.Sprintf("Resumo Diário:\nConsumo: %.1f kWh\nGeração: %.1f kWh\nSaldo: %.1f kWh\nCusto: R$ %.2f",
		report.ConsumptionKWH, report.GenerationKWH, report.BalanceKWH, report.Cost)
}
