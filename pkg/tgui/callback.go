package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes, counted over
// the whole "scope:action:payload" string.
const MaxCallbackDataLen = 64

var (
	ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")
	ErrCallbackDataInvalid = errors.New("tgui: scope and action must be non-empty and colon-free")
)

// Data formats callback data as "scope:action:payload". The payload may
// contain colons; scope and action may not.
func Data(scope, action, payload string) (string, error) {
	if scope == "" || action == "" || strings.Contains(scope, ":") || strings.Contains(action, ":") {
		return "", ErrCallbackDataInvalid
	}
	out := scope + ":" + action
	if payload != "" {
		out += ":" + payload
	}
	if len(out) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return out, nil
}

// MustData is Data for buttons known to fit. It panics otherwise.
func MustData(scope, action, payload string) string {
	s, err := Data(scope, action, payload)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseData splits data produced by Data. Missing parts are empty.
func ParseData(data string) (scope, action, payload string) {
	scope, rest, _ := strings.Cut(data, ":")
	action, payload, _ = strings.Cut(rest, ":")
	return scope, action, payload
}
