package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Server http server config struct
type Server struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	Mode         string        `json:"mode" yaml:"mode"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func getServerConfig(v *viper.Viper) *Server {
	return &Server{
		Host:         getStringOrDefault(v, "server.host", "0.0.0.0"),
		Port:         getIntOrDefault(v, "server.port", 8700),
		Mode:         getStringOrDefault(v, "server.mode", "release"),
		ReadTimeout:  getDurationOrDefault(v, "server.read_timeout", 15*time.Second),
		WriteTimeout: getDurationOrDefault(v, "server.write_timeout", 30*time.Second),
	}
}
