package store

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ModuleMaskSize is the exact length of config.txt.
const ModuleMaskSize = 4

// ReadLocation returns the stored location label, or ErrNotFound.
func ReadLocation(s Store) (string, error) {
	data, err := s.Read(LocationFile)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteLocation persists the location label as raw bytes, no terminator.
func WriteLocation(s Store, location string) error {
	return s.Write(LocationFile, []byte(location))
}

// EncodeModuleMask returns mask as 4 little-endian bytes.
func EncodeModuleMask(mask uint32) []byte {
	buf := make([]byte, ModuleMaskSize)
	binary.LittleEndian.PutUint32(buf, mask)
	return buf
}

// DecodeModuleMask parses exactly 4 little-endian bytes.
func DecodeModuleMask(data []byte) (uint32, error) {
	if len(data) != ModuleMaskSize {
		return 0, fmt.Errorf("%w: module mask is %d bytes, want %d", ErrCorrupt, len(data), ModuleMaskSize)
	}
	return binary.LittleEndian.Uint32(data), nil
}

// ReadModuleMask returns the persisted module mask, ErrNotFound or ErrCorrupt.
func ReadModuleMask(s Store) (uint32, error) {
	data, err := s.Read(ModuleFile)
	if err != nil {
		return 0, err
	}
	return DecodeModuleMask(data)
}

// WriteModuleMask persists mask as 4 raw bytes.
func WriteModuleMask(s Store, mask uint32) error {
	return s.Write(ModuleFile, EncodeModuleMask(mask))
}

// WiFiCredentials are the station credentials from wifi_creds.txt.
type WiFiCredentials struct {
	SSID     string
	Password string
}

// ParseWiFiCredentials splits "ssid?password" on the first '?'.
// Without a '?' the whole content is the SSID of an open network.
func ParseWiFiCredentials(data []byte) (WiFiCredentials, error) {
	ssid, password, _ := strings.Cut(string(data), "?")
	if ssid == "" {
		return WiFiCredentials{}, fmt.Errorf("%w: empty SSID in %s", ErrCorrupt, WiFiFile)
	}
	return WiFiCredentials{SSID: ssid, Password: password}, nil
}

// ReadWiFiCredentials loads and parses wifi_creds.txt.
func ReadWiFiCredentials(s Store) (WiFiCredentials, error) {
	data, err := s.Read(WiFiFile)
	if err != nil {
		return WiFiCredentials{}, err
	}
	return ParseWiFiCredentials(data)
}

// WriteWiFiCredentials persists credentials in the "ssid?password" form.
func WriteWiFiCredentials(s Store, creds WiFiCredentials) error {
	if creds.SSID == "" || strings.Contains(creds.SSID, "?") {
		return fmt.Errorf("%w: SSID %q", ErrCorrupt, creds.SSID)
	}
	return s.Write(WiFiFile, []byte(creds.SSID+"?"+creds.Password))
}
