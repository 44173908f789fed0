package session

import (
	"context"
	"errors"

	"sidgate/internal/codec"
	"sidgate/internal/link"
	"sidgate/internal/regmap"
)

// ErrUnsupportedFirmware 固件版本低于最低要求, 写操作全部关闭
var ErrUnsupportedFirmware = errors.New("unsupported firmware version")

var statusTable = []struct {
	err error
	msg string
}{
	{ErrBusy, "Device busy, try again in a moment"},
	{ErrPlaybackActive, "Press stop playing first"},
	{ErrNoConfig, "Read the configuration from the device first"},
	{ErrUnknownCommand, "Unknown command"},
	{ErrUnsupportedFirmware, "Firmware too old, please update your USBSID-Pico"},
	{codec.ErrMalformedVersionFrame, "Could not read firmware version, try again"},
	{codec.ErrMalformedConfigFrame, "Could not read configuration, try again"},
	{codec.ErrInvalidFunctionCode, "Invalid command"},
	{codec.ErrPayloadTooLong, "Invalid command"},
	{regmap.ErrUnknownField, "Unknown configuration item"},
	{regmap.ErrOutOfRange, "Value out of range"},
	{regmap.ErrUnsupportedClock, "Clock rate cannot be locked"},
	{regmap.ErrReadOnlyField, "Configuration item is read-only"},
	{regmap.ErrBlobSize, "Invalid configuration size"},
	{link.ErrNoUserGesture, "Click connect to select a device"},
	{link.ErrNoSavedIdentity, "No device paired yet, click connect"},
	{link.ErrNotFound, "No USBSID-Pico found"},
	{link.ErrNotConnected, "Device not connected"},
	{link.ErrTransport, "Device communication failed, reconnect and try again"},
	{context.DeadlineExceeded, "Device did not respond in time"},
	{context.Canceled, "Cancelled"},
}

// Status 返回给用户看的状态文本, nil 为 "OK"
func Status(err error) string {
	if err == nil {
		return "OK"
	}
	for _, s := range statusTable {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}
	return err.Error()
}
