package wukong

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint addresses one proxy of a cluster.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return errors.New("host is required")
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("port %d out of range [1,65535]", e.Port)
	}
	return nil
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}
