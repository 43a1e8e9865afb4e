package redshift

import (
	"net"
	"net/url"
	"strconv"

	"github.com/ajitpratap0/redtap/pkg/config"
)

// BuildDSN renders a postgres:// connection URL for the endpoint and login.
func BuildDSN(conn config.ConnectionConfig, creds Credentials) string {
	port := conn.Port
	if port == 0 {
		port = 5439
	}
	sslmode := conn.SSLMode
	if sslmode == "" {
		sslmode = "require"
	}

	q := url.Values{}
	q.Set("sslmode", sslmode)
	if secs := int(conn.ConnectTimeout.Seconds()); secs > 0 {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	q.Set("application_name", "redtap")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(creds.User, creds.Password),
		Host:     net.JoinHostPort(conn.Host, strconv.Itoa(port)),
		Path:     "/" + conn.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}
