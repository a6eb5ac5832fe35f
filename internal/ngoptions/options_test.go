package ngoptions

import (
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Options
	}{
		{
			name: "empty uses defaults",
			raw:  "",
			want: Options{Scheme: "http", Host: "localhost", Port: 4200},
		},
		{
			name: "port and ssl",
			raw:  "--port 4201 --ssl",
			want: Options{Scheme: "https", Host: "localhost", Port: 4201},
		},
		{
			name: "ssl false",
			raw:  "--ssl false --port 4201",
			want: Options{Scheme: "http", Host: "localhost", Port: 4201},
		},
		{
			name: "ssl-cert alone does not enable ssl",
			raw:  "--ssl-cert cert.pem",
			want: Options{Scheme: "http", Host: "localhost", Port: 4200},
		},
		{
			name: "short host flag",
			raw:  "-H 127.0.0.1",
			want: Options{Scheme: "http", Host: "127.0.0.1", Port: 4200},
		},
		{
			name: "equals syntax",
			raw:  "--host=0.0.0.0 --port=4300 --base-href=/admin/",
			want: Options{Scheme: "http", Host: "0.0.0.0", Port: 4300, BaseHref: "/admin/"},
		},
		{
			name: "last port wins",
			raw:  "--port 4201 --port 4202",
			want: Options{Scheme: "http", Host: "localhost", Port: 4202},
		},
		{
			name: "last port wins even if invalid",
			raw:  "--port 4201 --port abc",
			want: Options{Scheme: "http", Host: "localhost", Port: 4200},
		},
		{
			name: "negative port is not captured",
			raw:  "--port -1",
			want: Options{Scheme: "http", Host: "localhost", Port: 4200},
		},
		{
			name: "short base href and app",
			raw:  "-bh /shop/ -a shop",
			want: Options{Scheme: "http", Host: "localhost", Port: 4200, BaseHref: "/shop/", App: "shop"},
		},
		{
			name: "flags are case-insensitive",
			raw:  "--PORT 4250 --Base-Href /x/",
			want: Options{Scheme: "http", Host: "localhost", Port: 4250, BaseHref: "/x/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			tt.want.Raw = tt.raw
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestEffectiveBaseHref(t *testing.T) {
	if got := Parse("--port 4201").EffectiveBaseHref(); got != "/" {
		t.Errorf("EffectiveBaseHref() = %q, want %q", got, "/")
	}
	if got := Parse("--base-href /a/").EffectiveBaseHref(); got != "/a/" {
		t.Errorf("EffectiveBaseHref() = %q, want %q", got, "/a/")
	}
}

func TestValidateSet(t *testing.T) {
	tests := []struct {
		name    string
		raws    []string
		wantErr string
	}{
		{name: "single default", raws: []string{""}},
		{name: "two distinct apps", raws: []string{"--port 4200", "--port 4201 --base-href /admin/"}},
		{name: "duplicate port", raws: []string{"--base-href /a/", "--base-href /b/"}, wantErr: "duplicate port"},
		{name: "duplicate base href", raws: []string{"--port 4200", "--port 4201"}, wantErr: "duplicate base-href"},
		{name: "missing leading slash", raws: []string{"--base-href admin/"}, wantErr: "leading"},
		{name: "missing trailing slash", raws: []string{"--base-href /admin"}, wantErr: "trailing"},
		{name: "empty segment", raws: []string{"--base-href //"}, wantErr: "empty segment"},
		{name: "nested empty segment", raws: []string{"--base-href /a//b/"}, wantErr: "empty segment"},
		{name: "port zero", raws: []string{"--port 0"}, wantErr: "greater than zero"},
		{name: "port too large", raws: []string{"--port 70000"}, wantErr: "port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := make([]Options, 0, len(tt.raws))
			for _, raw := range tt.raws {
				list = append(list, Parse(raw))
			}

			err := ValidateSet(list)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateSet() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateSet() = nil, want error containing %q", tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("error %v does not wrap ErrInvalidOptions", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}
