package receiver

import (
	"fmt"
	"net"
	"time"
)

// commandRetryDelay is the recommended retry delay on a transient I/O
// failure when sending a command datagram (§7).
const commandRetryDelay = 50 * time.Millisecond

// CommandSender writes single-byte command datagrams to rover command
// endpoints, retrying once on I/O failure (§4.1, §7).
type CommandSender struct {
	dial func(address string) (net.Conn, error)
	now  func() time.Time
	// sleep is injectable so tests can avoid a real 50ms wait.
	sleep func(time.Duration)
}

// NewCommandSender returns a CommandSender backed by real UDP sockets.
func NewCommandSender() *CommandSender {
	return &CommandSender{
		dial: func(address string) (net.Conn, error) {
			return net.Dial("udp", address)
		},
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// SendCommand writes commandByte to endpoint as a single-byte UDP
// datagram. On a transient I/O failure it retries once after
// commandRetryDelay; a second failure is returned to the caller (§7).
func (c *CommandSender) SendCommand(roverID string, commandByte byte, endpoint string) error {
	if err := c.sendOnce(endpoint, commandByte); err != nil {
		c.sleep(commandRetryDelay)
		if err2 := c.sendOnce(endpoint, commandByte); err2 != nil {
			return fmt.Errorf("send_command to rover %s at %s failed after retry: %w", roverID, endpoint, err2)
		}
	}
	return nil
}

func (c *CommandSender) sendOnce(endpoint string, commandByte byte) error {
	conn, err := c.dial(endpoint)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte{commandByte})
	return err
}
