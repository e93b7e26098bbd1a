package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/calvinalkan/jsonsql/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		t.Fatal(err)
	}

	err = os.WriteFile(path, []byte(content), 0o600)
	if err != nil {
		t.Fatal(err)
	}
}

func Test_Load_Returns_Defaults_When_No_Files_Exist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := config.Load(config.Input{WorkDir: dir, Env: map[string]string{}})
	if err != nil {
		t.Fatal(err)
	}

	want := config.Default()
	want.EffectiveCwd = dir
	want.DataDirAbs = filepath.Join(dir, ".jsonsql")

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_Load_Applies_Precedence_When_Every_Layer_Sets_Values(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := t.TempDir()

	writeFile(t, filepath.Join(xdg, "jsonsql", "config.json"), `{
		// global
		"backend": "sqlite",
		"log_level": "debug",
		"table_default": "global",
	}`)
	writeFile(t, filepath.Join(dir, config.FileName), `{"backend": "jsonl", "table_default": "project"}`)

	cfg, err := config.Load(config.Input{
		WorkDir:      dir,
		Env:          map[string]string{"XDG_CONFIG_HOME": xdg},
		TableDefault: "flag",
	})
	if err != nil {
		t.Fatal(err)
	}

	want := config.Config{
		DataDir:      ".jsonsql",
		Backend:      "jsonl",
		TableDefault: "flag",
		LogLevel:     "debug",
	}

	if diff := cmp.Diff(want, cfg, cmpopts.IgnoreFields(config.Config{}, "EffectiveCwd", "DataDirAbs", "Sources")); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}

	if got, want := cfg.Sources.Global, filepath.Join(xdg, "jsonsql", "config.json"); got != want {
		t.Fatalf("global=%q, want=%q", got, want)
	}

	if got, want := cfg.Sources.Project, filepath.Join(dir, config.FileName); got != want {
		t.Fatalf("project=%q, want=%q", got, want)
	}
}

func Test_Load_Uses_Explicit_File_Instead_Of_Project_When_Config_Flag_Given(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, config.FileName), `{"backend": "jsonl"}`)
	writeFile(t, filepath.Join(dir, "other.json"), `{"backend": "memory", "data_dir": "/abs/data"}`)

	cfg, err := config.Load(config.Input{WorkDir: dir, ConfigPath: "other.json"})
	if err != nil {
		t.Fatal(err)
	}

	if got, want := cfg.Backend, "memory"; got != want {
		t.Fatalf("backend=%q, want=%q", got, want)
	}

	if got, want := cfg.DataDirAbs, "/abs/data"; got != want {
		t.Fatalf("data_dir=%q, want=%q", got, want)
	}
}

func Test_Load_Returns_Error_When_Config_Is_Invalid(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name    string
		file    string
		input   config.Input
		wantErr error
	}{
		{name: "explicit file missing", input: config.Input{ConfigPath: "nope.json"}, wantErr: config.ErrFileNotFound},
		{name: "malformed JSONC", file: `{"backend": `, wantErr: config.ErrInvalid},
		{name: "empty data dir in file", file: `{"data_dir": ""}`, wantErr: config.ErrDataDirEmpty},
		{name: "empty data dir flag", input: config.Input{HasDataDir: true}, wantErr: config.ErrDataDirEmpty},
		{name: "unknown backend", file: `{"backend": "postgres"}`, wantErr: config.ErrUnknownBackend},
		{name: "bad log level", input: config.Input{LogLevel: "loud"}, wantErr: config.ErrBadLogLevel},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			if tt.file != "" {
				writeFile(t, filepath.Join(dir, config.FileName), tt.file)
			}

			in := tt.input
			in.WorkDir = dir

			_, err := config.Load(in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err=%v, want=%v", err, tt.wantErr)
			}
		})
	}
}
