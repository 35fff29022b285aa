package tuya

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/guivega7/Goodwe-Challenge/pkg/log"
)

// Device is one entry in the portal's device list, or the result of a status
// lookup.
type Device struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Category    string       `json:"category"`
	ProductName string       `json:"product_name"`
	Online      bool         `json:"online"`
	Status      []StatusCode `json:"status"`
}

// StatusCode is one data point of a device's status list. Values are bool,
// number, or string depending on the code.
type StatusCode struct {
	Code  string `json:"code"`
	Value any    `json:"value"`
}

// Listing fallbacks, in the order they are tried.
const (
	FallbackUser   = "user"   // user-scoped device list
	FallbackSingle = "single" // synthesized from the primary device's status
)

// DeviceList is the result of the layered listing. Fallback is empty when the
// project-scoped list worked.
type DeviceList struct {
	Devices  []Device
	Fallback string
}

// Command is one function invocation on a device.
type Command struct {
	Code  string `json:"code"`
	Value any    `json:"value"`
}

// DeviceStatus retrieves one device's metadata and status list.
func (c *Client) DeviceStatus(ctx context.Context, deviceID string) (Device, error) {
	if deviceID == "" {
		return Device{}, errors.New("device id is required")
	}
	raw, err := c.request(ctx, http.MethodGet, "/v1.0/devices/"+deviceID, nil)
	if err != nil {
		return Device{}, err
	}
	var d Device
	if err := json.Unmarshal(raw, &d); err != nil {
		return Device{}, fmt.Errorf("decode device %s: %w", deviceID, err)
	}
	if d.ID == "" {
		d.ID = deviceID
	}
	return d, nil
}

// decodeDeviceList tolerates the result shapes the portal uses for listings:
// a bare array, {"devices": [...]}, or {"list": [...]}.
func decodeDeviceList(raw json.RawMessage) []Device {
	if len(raw) == 0 {
		return nil
	}
	var direct []Device
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct
	}
	var wrapped struct {
		Devices []Device `json:"devices"`
		List    []Device `json:"list"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if len(wrapped.Devices) > 0 {
			return wrapped.Devices
		}
		return wrapped.List
	}
	return nil
}

func (c *Client) listPath(ctx context.Context, path string) ([]Device, error) {
	raw, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeDeviceList(raw), nil
}

// ListDevices retrieves the linked devices, trying three layers: the
// project-scoped list, the user-scoped list when the project one is denied
// (most consumer cloud projects lack that authorization), and finally a
// single-device list synthesized from the primary plug's status.
func (c *Client) ListDevices(ctx context.Context) (DeviceList, error) {
	devices, primaryErr := c.listPath(ctx, "/v1.0/devices")
	if len(devices) > 0 {
		return DeviceList{Devices: devices}, nil
	}
	if primaryErr != nil {
		var apiErr APIError
		if !errors.As(primaryErr, &apiErr) {
			// transport failure, fallbacks would fail the same way
			return DeviceList{}, primaryErr
		}
		log.Ctx(ctx).WarnContext(ctx, "tuya device list failed, trying fallbacks",
			slog.Int("code", apiErr.Code), slog.String("msg", apiErr.Msg))
	}

	if primaryErr != nil && c.userID != "" {
		devices, err := c.listPath(ctx, "/v1.0/users/"+c.userID+"/devices")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "tuya user device list failed", slog.Any("err", err))
		}
		if len(devices) > 0 {
			return DeviceList{Devices: devices, Fallback: FallbackUser}, nil
		}
	}

	if c.deviceID != "" {
		d, err := c.DeviceStatus(ctx, c.deviceID)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "tuya single device fallback failed", slog.Any("err", err))
		} else {
			if d.Name == "" {
				d.Name = "Device " + shortID(c.deviceID)
			}
			return DeviceList{Devices: []Device{d}, Fallback: FallbackSingle}, nil
		}
	}

	if primaryErr != nil {
		return DeviceList{}, primaryErr
	}
	return DeviceList{}, nil
}

func shortID(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}

// SendCommand dispatches function invocations to a device.
func (c *Client) SendCommand(ctx context.Context, deviceID string, commands ...Command) error {
	if deviceID == "" {
		return errors.New("device id is required")
	}
	if len(commands) == 0 {
		return errors.New("at least one command is required")
	}
	body := map[string]any{"commands": commands}
	_, err := c.request(ctx, http.MethodPost, "/v1.0/devices/"+deviceID+"/commands", body)
	return err
}

// SetSwitch turns the plug relay on or off.
func (c *Client) SetSwitch(ctx context.Context, deviceID string, on bool) error {
	return c.SendCommand(ctx, deviceID, Command{Code: "switch_1", Value: on})
}
