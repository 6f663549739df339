package config

import (
	"testing"
	"time"
)

func TestInitializeSetsHardDefaults(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := GetString("compact-mode"); got != string(CompactNever) {
		t.Errorf("compact-mode default = %q, want %q", got, CompactNever)
	}
	if got := GetInt("default-port"); got != 5000 {
		t.Errorf("default-port default = %d, want 5000", got)
	}
	if got := GetDuration("sync-tolerance"); got != 30*time.Second {
		t.Errorf("sync-tolerance default = %v, want 30s", got)
	}
	if got := GetInt64("compact-size-bytes"); got != 64*1024*1024 {
		t.Errorf("compact-size-bytes default = %d, want %d", got, 64*1024*1024)
	}
}

func TestGetValueSourceReflectsEnvOverride(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := GetValueSource("default-port"); got != SourceDefault {
		t.Errorf("GetValueSource(unset key) = %v, want SourceDefault", got)
	}

	t.Setenv("TRUSTCHAIN_DEFAULT_PORT", "6000")
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := GetValueSource("default-port"); got != SourceEnvVar {
		t.Errorf("GetValueSource(env-overridden key) = %v, want SourceEnvVar", got)
	}
	if got := GetInt("default-port"); got != 6000 {
		t.Errorf("default-port after env override = %d, want 6000", got)
	}
}

func TestSetOverridesInMemory(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	Set("recovery-mode", string(RecoveryAsync))
	if got := GetString("recovery-mode"); got != string(RecoveryAsync) {
		t.Errorf("recovery-mode after Set = %q, want %q", got, RecoveryAsync)
	}
}

func TestCompactModeValueResolvesAllFour(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	mode, interval, sizeBytes, factor := CompactModeValue()
	if mode != string(CompactNever) {
		t.Errorf("mode = %q, want %q", mode, CompactNever)
	}
	if interval != time.Hour {
		t.Errorf("interval = %v, want 1h", interval)
	}
	if sizeBytes != 64*1024*1024 {
		t.Errorf("sizeBytes = %d, want %d", sizeBytes, 64*1024*1024)
	}
	if factor != 2.0 {
		t.Errorf("factor = %v, want 2.0", factor)
	}
}

func TestLogFormatDefaults(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := LogFormatMeta(); got != "json" {
		t.Errorf("LogFormatMeta() = %q, want json", got)
	}
	if got := LogFormatData(); got != "gob" {
		t.Errorf("LogFormatData() = %q, want gob", got)
	}
}

func TestWireEncryptionBitsDefaultsToZero(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := WireEncryptionBits(); got != 0 {
		t.Errorf("WireEncryptionBits() = %d, want 0", got)
	}
}

func TestAccessorsBeforeInitializeReturnZeroValues(t *testing.T) {
	v = nil
	if got := GetString("anything"); got != "" {
		t.Errorf("GetString before Initialize = %q, want empty", got)
	}
	if got := GetBool("anything"); got != false {
		t.Errorf("GetBool before Initialize = %v, want false", got)
	}
	if got := GetInt("anything"); got != 0 {
		t.Errorf("GetInt before Initialize = %d, want 0", got)
	}
	if got := AllSettings(); len(got) != 0 {
		t.Errorf("AllSettings before Initialize = %v, want empty", got)
	}
}
