package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"supportchat/pkg/interfaces"
)

const tokenEnv = "SUPPORTCHAT_TOKEN"

var errNoToken = errors.New("no credential: pass --token or --token-file, or set " + tokenEnv)

// credentials picks the bearer token source: --token, then --token-file, then
// the environment
// FUNCTIONAL DISCOVERY: File and environment sources are read on every call so
// a rotated token is used by the next dial or request
func (o *cliOptions) credentials() (interfaces.CredentialProvider, error) {
	switch {
	case o.token != "":
		token := o.token
		return func(context.Context) (string, error) { return token, nil }, nil

	case o.tokenFile != "":
		path := o.tokenFile
		if _, err := readToken(path); err != nil {
			return nil, err
		}
		return func(context.Context) (string, error) { return readToken(path) }, nil

	case strings.TrimSpace(os.Getenv(tokenEnv)) != "":
		return func(context.Context) (string, error) {
			if token := strings.TrimSpace(os.Getenv(tokenEnv)); token != "" {
				return token, nil
			}
			return "", errNoToken
		}, nil
	}
	return nil, errNoToken
}

func readToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}
