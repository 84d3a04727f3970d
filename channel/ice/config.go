/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package ice

import (
	"fmt"

	libval "github.com/go-playground/validator/v10"
	liberr "github.com/nabbar/golib/errors"
)

// DefaultStunPort is applied when a STUN or TURN server is configured
// without an explicit port.
const DefaultStunPort uint16 = 3478

// TurnProtoUDP / TurnProtoTCP select the relay transport type.
const (
	TurnProtoUDP = "udp"
	TurnProtoTCP = "tcp"
)

// ConfigTurn describes an optional TURN relay.
type ConfigTurn struct {
	// Host is the relay server. An empty host clears the relay.
	Host string `mapstructure:"host" json:"host" yaml:"host" toml:"host"`

	// Port is the relay port; zero falls back to DefaultStunPort.
	Port uint16 `mapstructure:"port" json:"port" yaml:"port" toml:"port"`

	// Username / Password are the relay long-term credentials.
	Username string `mapstructure:"username" json:"username" yaml:"username" toml:"username"`
	Password string `mapstructure:"password" json:"password" yaml:"password" toml:"password"`

	// Proto is the relay transport type, udp (default) or tcp.
	Proto string `mapstructure:"proto" json:"proto" yaml:"proto" toml:"proto" validate:"omitempty,oneof=udp tcp"`
}

// Config describes an ICE packet channel before Open.
type Config struct {
	// Controlling selects the ICE controlling role. The side that
	// initiates the connection is conventionally controlling.
	Controlling bool `mapstructure:"controlling" json:"controlling" yaml:"controlling" toml:"controlling"`

	// StunHost is the STUN server used for server-reflexive discovery.
	// Empty disables STUN.
	StunHost string `mapstructure:"stun_host" json:"stun_host" yaml:"stun_host" toml:"stun_host"`

	// StunPort is the STUN port; zero falls back to DefaultStunPort.
	StunPort uint16 `mapstructure:"stun_port" json:"stun_port" yaml:"stun_port" toml:"stun_port"`

	// Turn configures an optional relay.
	Turn ConfigTurn `mapstructure:"turn" json:"turn" yaml:"turn" toml:"turn"`

	// PortMin / PortMax restrict locally selected UDP ports. Both zero
	// leaves the range unrestricted.
	PortMin uint16 `mapstructure:"port_min" json:"port_min" yaml:"port_min" toml:"port_min"`
	PortMax uint16 `mapstructure:"port_max" json:"port_max" yaml:"port_max" toml:"port_max" validate:"omitempty,gtefield=PortMin"`
}

// Validate allow checking if the config' struct is valid with the awaiting model
func (c *Config) Validate() liberr.Error {
	var e = ErrorValidatorError.Error(nil)

	if err := libval.New().Struct(c); err != nil {
		if er, ok := err.(*libval.InvalidValidationError); ok {
			e.Add(er)
		}

		for _, er := range err.(libval.ValidationErrors) {
			//nolint #goerr113
			e.Add(fmt.Errorf("config field '%s' is not validated by constraint '%s'", er.Namespace(), er.ActualTag()))
		}
	}

	if !e.HasParent() {
		e = nil
	}

	return e
}
