// Package transports imports every built-in transport for registration.
package transports

import (
	_ "github.com/drblury/obpflow/transport/channel"
	_ "github.com/drblury/obpflow/transport/kafka"
	_ "github.com/drblury/obpflow/transport/nats"
	_ "github.com/drblury/obpflow/transport/rabbitmq"
)
