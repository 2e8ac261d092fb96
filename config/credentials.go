package config

import (
	"os"

	"github.com/go-ini/ini"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// DefaultClientCredentials is the client file consulted when no admin user
// is configured.
const DefaultClientCredentials = "~/.mongodb.cnf"

// LoadClientCredentials reads the user and pass keys of the [client]
// section of an INI file. A missing file returns (nil, nil).
func LoadClientCredentials(path string) (*Credential, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrapf(err, "expanding %s", path)
	}
	if _, err := os.Stat(expanded); os.IsNotExist(err) {
		return nil, nil
	}
	f, err := ini.Load(expanded)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", expanded)
	}
	sec, err := f.GetSection("client")
	if err != nil {
		return nil, errors.Errorf("%s has no [client] section", expanded)
	}
	user, err := sec.GetKey("user")
	if err != nil {
		return nil, errors.Errorf("%s: [client] section has no user", expanded)
	}
	pass, err := sec.GetKey("pass")
	if err != nil {
		return nil, errors.Errorf("%s: [client] section has no pass", expanded)
	}
	return &Credential{Username: user.String(), Password: pass.String(), Source: "admin"}, nil
}
