package smtp

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

// loginAuth implements the AUTH LOGIN challenge-response flow, which
// net/smtp does not ship. Some relays (Office 365, older Exchange)
// advertise LOGIN only.
type loginAuth struct {
	username string
	password string
	host     string
}

// Start begins AUTH LOGIN without an initial response. Credentials are
// only sent over TLS or to a local relay, matching smtp.PlainAuth.
func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS && !isLocalhost(server.Name) {
		return "", nil, errors.New("unencrypted connection")
	}
	if server.Name != a.host {
		return "", nil, errors.New("wrong host name")
	}
	return "LOGIN", nil, nil
}

// Next answers the server's "Username:" and "Password:" challenges.
func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	challenge := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(string(fromServer), ":")))
	switch challenge {
	case "username", "user name":
		return []byte(a.username), nil
	case "password":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected AUTH LOGIN challenge %q", fromServer)
	}
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}
