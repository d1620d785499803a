// Package appid resolves the tripbundle application identity. A copy of
// .fulmen/app.yaml is embedded so installed binaries work outside the repo;
// FULMEN_APP_IDENTITY_PATH and an on-disk .fulmen/app.yaml still win.
package appid

import (
	"context"
	_ "embed"

	"github.com/fulmenhq/gofulmen/appidentity"
)

// Embedded mirrors .fulmen/app.yaml and must be kept in sync with it.
//
//go:embed app.yaml
var Embedded []byte

func init() {
	_ = Register()
}

// Register installs the embedded identity as the lookup fallback.
func Register() error {
	return appidentity.RegisterEmbeddedIdentityYAML(Embedded)
}

func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}
