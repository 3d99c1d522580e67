// Package daemon feeds the address index from a bitcoind node.
//
// Transactions announced over ZMQ have their outputs stored in the prevout
// store and are then indexed. Transactions in announced blocks are deindexed.
// On start, the node's mempool is loaded over RPC if an RPC address is
// configured.
package daemon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/decred/dcrd/lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/0xb10c/mempool-addrindex/src/addrindex"
	"github.com/0xb10c/mempool-addrindex/src/api"
	"github.com/0xb10c/mempool-addrindex/src/bitcoinrpcclient"
	"github.com/0xb10c/mempool-addrindex/src/config"
	"github.com/0xb10c/mempool-addrindex/src/script"
	"github.com/0xb10c/mempool-addrindex/src/storage"
	"github.com/0xb10c/mempool-addrindex/src/types"
	"github.com/0xb10c/mempool-addrindex/src/zmqsubscriber"
)

var log = logrus.WithField("module", "daemon")

const shutdownTimeout = 5 * time.Second

// MempoolSource lists the transactions currently in the node's mempool.
type MempoolSource interface {
	GetRawMempoolTransactions() ([]types.Transaction, error)
}

type AddrIndexDaemon struct {
	zmqSub  *zmqsubscriber.ZMQSubscriber
	rpc     *bitcoinrpcclient.BitcoinRPCClient
	storage *storage.Storage
	indexer *addrindex.Indexer
	server  *http.Server
	clock   clock.Clock

	prevoutRetention time.Duration
	pruneInterval    time.Duration

	// knownTxs holds the indexed transactions, confirmedTxs those seen in a
	// block. bitcoind announces the transactions of a block over rawtx too,
	// possibly after the block itself.
	knownTxs     lru.Cache
	confirmedTxs lru.Cache

	quit     chan struct{}
	quitOnce sync.Once
	errs     chan error
}

// NewAddrIndexDaemon connects to the node and opens the prevout store.
func NewAddrIndexDaemon(conf *config.YamlConf) (*AddrIndexDaemon, error) {
	params, err := conf.Params()
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStorage(conf.DB.Path)
	if err != nil {
		return nil, errors.Wrap(err, "could not initialize storage")
	}

	prevOuts := script.MultiSource{store}
	var rpc *bitcoinrpcclient.BitcoinRPCClient
	if conf.RPC.Address != "" {
		rpc, err = bitcoinrpcclient.NewBitcoinRPCClient(conf.RPC.Address)
		if err != nil {
			store.Close()
			return nil, errors.Wrap(err, "could not setup RPC client")
		}
		prevOuts = append(prevOuts, rpc)
	} else {
		log.Warn("no RPC address configured, the mempool is not loaded on start")
	}

	clk := clock.New()
	zmqSub, err := zmqsubscriber.NewZMQSubscriber(conf.ZMQ.Host, conf.ZMQ.Port, clk)
	if err != nil {
		store.Close()
		if rpc != nil {
			rpc.Shutdown()
		}
		return nil, errors.Wrap(err, "could not setup ZMQ subscriber")
	}

	d, err := newAddrIndexDaemon(store, script.NewResolver(params, prevOuts), clk, conf.Index)
	if err != nil {
		zmqSub.Quit()
		store.Close()
		if rpc != nil {
			rpc.Shutdown()
		}
		return nil, err
	}
	d.zmqSub = zmqSub
	d.rpc = rpc
	d.server = api.NewService(d.indexer, params).NewServer(conf.HTTP.Listen, conf.HTTP.BasePath)
	return d, nil
}

func newAddrIndexDaemon(
	store *storage.Storage,
	resolver addrindex.AddressResolver,
	clk clock.Clock,
	conf config.Index,
) (*AddrIndexDaemon, error) {
	indexer, err := addrindex.New(addrindex.Config{
		Resolver:            resolver,
		Clock:               clk,
		TransactionLifetime: conf.TransactionLifetime,
		ExpiryScanInterval:  conf.ExpiryScanInterval,
	})
	if err != nil {
		return nil, err
	}

	return &AddrIndexDaemon{
		storage:          store,
		indexer:          indexer,
		clock:            clk,
		prevoutRetention: conf.PrevoutRetention,
		pruneInterval:    conf.PruneInterval,
		knownTxs:         lru.NewCache(conf.KnownTxCacheSize),
		confirmedTxs:     lru.NewCache(conf.KnownTxCacheSize),
		quit:             make(chan struct{}),
		errs:             make(chan error, 1),
	}, nil
}

// Run loads the mempool, starts the HTTP server and processes ZMQ messages
// until Stop is called or an error occurs.
func (d *AddrIndexDaemon) Run() error {
	if d.rpc != nil {
		if err := d.bootstrap(d.rpc); err != nil {
			return err
		}
	}

	if d.server != nil {
		go func() {
			log.WithField("address", d.server.Addr).Info("starting HTTP server")
			err := d.server.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				d.fail(errors.Wrap(err, "HTTP server failed"))
			}
		}()
	}

	return d.process(d.zmqSub.IncomingTx, d.zmqSub.IncomingBlocks)
}

// Stop makes Run return.
func (d *AddrIndexDaemon) Stop() {
	d.quitOnce.Do(func() {
		close(d.quit)
	})
}

func (d *AddrIndexDaemon) fail(err error) {
	select {
	case d.errs <- err:
	default:
	}
}

// Close releases all resources. It must be called after Run returned.
func (d *AddrIndexDaemon) Close() error {
	var errs []error

	if d.zmqSub != nil {
		if err := d.zmqSub.Quit(); err != nil {
			errs = append(errs, errors.Wrap(err, "could not close ZMQ subscriber"))
		}
	}
	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(ctx); err != nil {
			errs = append(errs, errors.Wrap(err, "could not shut down HTTP server"))
		}
	}

	d.indexer.Stop()

	if err := d.storage.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "could not close storage"))
	}
	if d.rpc != nil {
		d.rpc.Shutdown()
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (d *AddrIndexDaemon) process(txs <-chan types.Transaction, blocks <-chan types.Block) error {
	pruneTicker := d.clock.Ticker(d.pruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case tx, ok := <-txs:
			if !ok {
				return errors.New("ZMQ transaction feed closed")
			}
			d.handleTransaction(tx)
		case block, ok := <-blocks:
			if !ok {
				return errors.New("ZMQ block feed closed")
			}
			d.handleBlock(block)
		case <-pruneTicker.C:
			d.prune()
		case err := <-d.errs:
			return err
		case <-d.quit:
			return nil
		}
	}
}

// bootstrap stores the outputs of all mempool transactions before indexing
// any of them, so that spends of unconfirmed parents resolve regardless of
// order.
func (d *AddrIndexDaemon) bootstrap(source MempoolSource) error {
	txs, err := source.GetRawMempoolTransactions()
	if err != nil {
		return errors.Wrap(err, "could not load mempool")
	}

	for _, tx := range txs {
		if err := d.storage.InsertTransactionOutputs(tx.Tx, tx.FirstSeen); err != nil {
			return err
		}
	}
	for _, tx := range txs {
		d.index(tx)
	}

	log.WithField("transactions", len(txs)).Info("loaded mempool")
	return nil
}

func (d *AddrIndexDaemon) handleTransaction(tx types.Transaction) {
	txid := tx.TxID()
	if d.knownTxs.Contains(txid) || d.confirmedTxs.Contains(txid) {
		return
	}

	if err := d.storage.InsertTransactionOutputs(tx.Tx, tx.FirstSeen); err != nil {
		log.WithError(err).WithField("txid", txid).Error("could not store outputs")
	}
	d.index(tx)
}

func (d *AddrIndexDaemon) index(tx types.Transaction) {
	txid := tx.TxID()
	d.knownTxs.Add(txid)
	d.indexer.Index(tx.Tx, func(err error) {
		if err != nil {
			// nothing was recorded, so there is nothing to deindex later
			d.knownTxs.Delete(txid)
		}
		logResult(err, txid, "index")
	})
}

func (d *AddrIndexDaemon) handleBlock(block types.Block) {
	deindexed := 0
	for _, tx := range block.Block.Transactions {
		txid := types.NewHashFromChainhash(tx.TxHash())
		d.confirmedTxs.Add(txid)
		if !d.knownTxs.Contains(txid) {
			continue
		}
		d.knownTxs.Delete(txid)
		d.indexer.Deindex(tx, func(err error) {
			logResult(err, txid, "deindex")
		})
		deindexed++
	}

	log.WithFields(logrus.Fields{
		"hash":         block.Hash(),
		"transactions": len(block.Block.Transactions),
		"deindexed":    deindexed,
	}).Info("new block")
}

func (d *AddrIndexDaemon) prune() {
	n, err := d.storage.PruneOutputsBefore(d.clock.Now().Add(-d.prevoutRetention))
	if err != nil {
		log.WithError(err).Error("could not prune outputs")
		return
	}
	log.WithField("outputs", n).Debug("pruned prevout store")
}

func logResult(err error, txid types.Hash32, op string) {
	if err == nil {
		return
	}
	entry := log.WithError(err).WithField("txid", txid)
	if addrindex.IsErrorExtraction(err) {
		entry.Warnf("could not %s transaction", op)
		return
	}
	entry.Errorf("could not %s transaction", op)
}

