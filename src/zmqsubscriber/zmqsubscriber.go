// Package zmqsubscriber receives new transactions and blocks from bitcoind's
// ZMQ interface.
package zmqsubscriber

import (
	"bytes"
	"encoding/binary"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/btcsuite/btcd/wire"
	"github.com/pebbe/zmq4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/0xb10c/mempool-addrindex/src/types"
)

var log = logrus.WithField("module", "zmqsubscriber")

const TOPIC_RAWTX = "rawtx"
const TOPIC_RAWBLOCK = "rawblock"

const (
	transactionBufferSize = 4096
	blockBufferSize       = 4
	// how often the receiving goroutine checks whether Quit was called
	receiveTimeout = 250 * time.Millisecond
)

type ZMQSubscriber struct {
	Port   string
	Host   string
	Topics []string
	socket *zmq4.Socket
	clock  clock.Clock
	quit   chan struct{}
	done   chan struct{}
	err    error

	// sequence numbers of the last message per topic
	sequence map[string]uint32

	IncomingTx     chan types.Transaction
	IncomingBlocks chan types.Block
}

// bitcoind sends [body, sequence] after the topic frame.
func splitMessage(msg [][]byte) (body []byte, sequence uint32, err error) {
	if len(msg) != 2 {
		return nil, 0, errors.Errorf("unknown message format: len(msg)=%d", len(msg))
	}
	if len(msg[1]) != 4 {
		return nil, 0, errors.Errorf("invalid sequence number length %d", len(msg[1]))
	}
	return msg[0], binary.LittleEndian.Uint32(msg[1]), nil
}

func parseTransaction(body []byte) (*wire.MsgTx, error) {
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(body)); err != nil {
		return nil, errors.Wrap(err, "could not deserialize transaction")
	}
	return tx, nil
}

func parseBlock(body []byte) (*wire.MsgBlock, error) {
	block := &wire.MsgBlock{}
	if err := block.Deserialize(bytes.NewReader(body)); err != nil {
		return nil, errors.Wrap(err, "could not deserialize block")
	}
	return block, nil
}

// NewZMQSubscriber connects to bitcoind's ZMQ publisher at host:port.
// Timestamps of received messages are taken from clk.
func NewZMQSubscriber(host string, port string, clk clock.Clock) (*ZMQSubscriber, error) {
	socket, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, err
	}

	topics := []string{TOPIC_RAWTX, TOPIC_RAWBLOCK}
	for _, topic := range topics {
		err := socket.SetSubscribe(topic)
		if err != nil {
			socket.Close()
			return nil, err
		}
	}

	if err := socket.SetRcvtimeo(receiveTimeout); err != nil {
		socket.Close()
		return nil, err
	}

	connectionString := "tcp://" + host + ":" + port
	err = socket.Connect(connectionString)
	if err != nil {
		socket.Close()
		return nil, errors.Wrapf(err, "could not connect ZMQ subscriber to '%s'", connectionString)
	}
	log.WithField("address", connectionString).Info("connected ZMQ subscriber")

	if clk == nil {
		clk = clock.New()
	}

	z := &ZMQSubscriber{
		Host:           host,
		Port:           port,
		Topics:         topics,
		socket:         socket,
		clock:          clk,
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		sequence:       map[string]uint32{},
		IncomingTx:     make(chan types.Transaction, transactionBufferSize),
		IncomingBlocks: make(chan types.Block, blockBufferSize),
	}
	go z.run()
	return z, nil
}

func (z *ZMQSubscriber) run() {
	defer close(z.done)
	defer close(z.IncomingTx)
	defer close(z.IncomingBlocks)
	defer func() {
		z.err = z.socket.Close()
	}()

	for {
		select {
		case <-z.quit:
			return
		default:
		}

		msg, err := z.socket.RecvMessageBytes(0)
		if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
			continue
		}
		if err != nil {
			log.WithError(err).Error("could not receive ZMQ message")
			return
		}
		t := z.clock.Now()
		topic, payload := string(msg[0]), msg[1:]
		z.handleMessage(topic, payload, t)
	}
}

func (z *ZMQSubscriber) handleMessage(topic string, payload [][]byte, t time.Time) {
	body, sequence, err := splitMessage(payload)
	if err != nil {
		log.WithError(err).WithField("topic", topic).Warn("dropping message")
		return
	}
	z.checkSequence(topic, sequence)

	switch topic {
	case TOPIC_RAWTX:
		tx, err := parseTransaction(body)
		if err != nil {
			log.WithError(err).Warn("dropping transaction")
			return
		}
		select {
		case z.IncomingTx <- types.Transaction{Tx: tx, FirstSeen: t}:
		case <-z.quit:
		}
	case TOPIC_RAWBLOCK:
		block, err := parseBlock(body)
		if err != nil {
			log.WithError(err).Warn("dropping block")
			return
		}
		select {
		case z.IncomingBlocks <- types.Block{Block: block, FirstSeen: t}:
		case <-z.quit:
		}
	default:
		log.WithField("topic", topic).Warn("unknown topic")
	}
}

// checkSequence warns about messages bitcoind sent but we never received,
// e.g. because the high water mark was reached.
func (z *ZMQSubscriber) checkSequence(topic string, sequence uint32) {
	last, ok := z.sequence[topic]
	z.sequence[topic] = sequence
	if ok && sequence != last+1 {
		log.WithFields(logrus.Fields{
			"topic":    topic,
			"expected": last + 1,
			"got":      sequence,
		}).Warn("missed ZMQ messages")
	}
}

// Quit stops the receiving goroutine and closes the socket. IncomingTx and
// IncomingBlocks are closed before Quit returns. Quit must be called once.
func (z *ZMQSubscriber) Quit() error {
	close(z.quit)
	<-z.done
	return z.err
}
