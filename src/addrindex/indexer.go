// Package addrindex keeps an in-memory index of unconfirmed transactions by
// address. For every address it knows the outputs paying to it and the inputs
// spending from it that are not yet confirmed.
//
// All index state is owned by a strand. Index, Deindex, Query and Stats only
// post work to it and report back through a callback, which runs on the
// strand once the work is done. Callers must not block in callbacks, and must
// not assume they run on the calling goroutine.
//
// Transactions that stay unconfirmed for longer than the transaction lifetime
// are dropped. Expiry is checked lazily while indexing and deindexing.
package addrindex

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/0xb10c/mempool-addrindex/src/strand"
	"github.com/0xb10c/mempool-addrindex/src/types"
)

// DefaultTransactionLifetime is how long a transaction stays indexed if it
// is not deindexed. A transaction that is not in a block within an hour
// probably won't be in a block at all.
const DefaultTransactionLifetime = time.Hour

// CompletionHandler receives the result of Index and Deindex.
type CompletionHandler func(err error)

// QueryHandler receives the result of Query.
type QueryHandler func(err error, spends []types.SpendRecord, outputs []types.OutputRecord)

// StatsHandler receives the result of Stats.
type StatsHandler func(stats Stats)

// Config configures an Indexer. Resolver is required.
type Config struct {
	Resolver AddressResolver

	// Clock defaults to the wall clock.
	Clock clock.Clock

	// TransactionLifetime defaults to DefaultTransactionLifetime.
	TransactionLifetime time.Duration

	// ExpiryScanInterval is the minimum time between two expiry scans.
	// Zero scans on every index and deindex.
	ExpiryScanInterval time.Duration

	Logger *logrus.Entry
}

// Stats describes the size of the index.
type Stats struct {
	Transactions    int `json:"transactions"`
	SpendAddresses  int `json:"spendAddresses"`
	OutputAddresses int `json:"outputAddresses"`
	Spends          int `json:"spends"`
	Outputs         int `json:"outputs"`
	PendingRequests int `json:"pendingRequests"`
}

type addrSpend struct {
	addr types.Address
	rec  types.SpendRecord
}

type addrOutput struct {
	addr types.Address
	rec  types.OutputRecord
}

// contribution is everything one transaction added to the store.
type contribution struct {
	spends  []addrSpend
	outputs []addrOutput
}

// Indexer is the address index. Create it with New and release it with Stop.
type Indexer struct {
	strand       *strand.Strand
	resolver     AddressResolver
	clock        clock.Clock
	lifetime     time.Duration
	scanInterval time.Duration
	log          *logrus.Entry

	// Everything below is owned by the strand.
	store          *store
	expiry         *expiryQueue
	contributions  map[types.Hash32]*contribution
	lastExpiryScan time.Time
}

// New returns a running Indexer.
func New(cfg Config) (*Indexer, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("address resolver not set")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.TransactionLifetime <= 0 {
		cfg.TransactionLifetime = DefaultTransactionLifetime
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.WithField("module", "addrindex")
	}

	initPrometheusMetrics()

	return &Indexer{
		strand:        strand.New(),
		resolver:      cfg.Resolver,
		clock:         cfg.Clock,
		lifetime:      cfg.TransactionLifetime,
		scanInterval:  cfg.ExpiryScanInterval,
		log:           cfg.Logger,
		store:         newStore(),
		expiry:        newExpiryQueue(),
		contributions: map[types.Hash32]*contribution{},
	}, nil
}

// Stop waits for queued operations to finish and shuts the Indexer down.
// Operations submitted afterwards fail with strand.ErrStopped.
func (idx *Indexer) Stop() {
	idx.strand.Stop()
}

// Query returns all unconfirmed spends from and outputs to addr. Unknown
// addresses yield empty results.
func (idx *Indexer) Query(addr types.Address, handleQuery QueryHandler) {
	err := idx.strand.Post(func() {
		spends, outputs := idx.store.lookup(addr)
		handleQuery(nil, spends, outputs)
	})
	if err != nil {
		handleQuery(err, nil, nil)
	}
}

// Index adds the spends and outputs of tx to the index.
func (idx *Indexer) Index(tx *wire.MsgTx, handleIndex CompletionHandler) {
	err := idx.strand.Post(func() {
		handleIndex(idx.doIndex(tx))
	})
	if err != nil {
		handleIndex(err)
	}
}

// Deindex removes the spends and outputs of tx from the index. An indexed
// transaction loses exactly the records Index added for it, without asking
// the resolver again. Deindexing a transaction that is not indexed, for
// instance because it already expired, succeeds as long as its addresses
// can be resolved.
func (idx *Indexer) Deindex(tx *wire.MsgTx, handleDeindex CompletionHandler) {
	err := idx.strand.Post(func() {
		handleDeindex(idx.doDeindex(tx))
	})
	if err != nil {
		handleDeindex(err)
	}
}

// Stats reports the current size of the index. If the Indexer is stopped,
// the handler gets zero Stats.
func (idx *Indexer) Stats(handleStats StatsHandler) {
	err := idx.strand.Post(func() {
		handleStats(Stats{
			Transactions:    idx.expiry.len(),
			SpendAddresses:  len(idx.store.spends),
			OutputAddresses: len(idx.store.outputs),
			Spends:          idx.store.nSpends,
			Outputs:         idx.store.nOutputs,
			PendingRequests: idx.strand.Len(),
		})
	})
	if err != nil {
		handleStats(Stats{})
	}
}

func (idx *Indexer) doIndex(tx *wire.MsgTx) error {
	now := idx.clock.Now()
	idx.expire(now)

	txid := types.NewHashFromChainhash(tx.TxHash())
	if idx.expiry.contains(txid) {
		idx.log.Debugf("transaction %s is already indexed", txid)
		return nil
	}

	c, err := idx.resolve(txid, tx)
	if err != nil {
		prometheusExtractionFailures.Inc()
		return err
	}

	for _, s := range c.spends {
		idx.store.insertSpend(s.addr, s.rec)
	}
	for _, o := range c.outputs {
		idx.store.insertOutput(o.addr, o.rec)
	}
	idx.contributions[txid] = c
	idx.expiry.recordArrival(txid, now)

	prometheusIndexed.Inc()
	idx.updateGauges()
	idx.log.Tracef("indexed %s: %d spends, %d outputs", txid, len(c.spends), len(c.outputs))
	return nil
}

func (idx *Indexer) doDeindex(tx *wire.MsgTx) error {
	idx.expire(idx.clock.Now())

	txid := types.NewHashFromChainhash(tx.TxHash())
	if recorded, ok := idx.contributions[txid]; ok {
		idx.removeContribution(recorded)
		delete(idx.contributions, txid)
	} else {
		c, err := idx.resolve(txid, tx)
		if err != nil {
			prometheusExtractionFailures.Inc()
			return err
		}
		idx.removeContribution(c)
	}
	idx.expiry.remove(txid)

	prometheusDeindexed.Inc()
	idx.updateGauges()
	idx.log.Tracef("deindexed %s", txid)
	return nil
}

// resolve computes the records tx contributes without touching the store.
func (idx *Indexer) resolve(txid types.Hash32, tx *wire.MsgTx) (*contribution, error) {
	c := &contribution{}

	for i, in := range tx.TxIn {
		prev, addr, ok, err := idx.resolver.PreviousOutput(in)
		if err != nil {
			return nil, &ErrorExtraction{TxID: txid, Input: true, Index: uint32(i), Err: err}
		}
		if !ok {
			continue
		}
		c.spends = append(c.spends, addrSpend{
			addr: addr,
			rec: types.SpendRecord{
				Point:          types.InputPoint{TxID: txid, Index: uint32(i)},
				PreviousOutput: prev,
			},
		})
	}

	for i, out := range tx.TxOut {
		if out.Value < 0 {
			return nil, &ErrorExtraction{
				TxID: txid, Index: uint32(i),
				Err: errors.Errorf("negative output value %d", out.Value),
			}
		}
		addr, ok, err := idx.resolver.OutputAddress(out)
		if err != nil {
			return nil, &ErrorExtraction{TxID: txid, Index: uint32(i), Err: err}
		}
		if !ok {
			continue
		}
		c.outputs = append(c.outputs, addrOutput{
			addr: addr,
			rec: types.OutputRecord{
				Point: types.OutputPoint{TxID: txid, Index: uint32(i)},
				Value: uint64(out.Value),
			},
		})
	}

	return c, nil
}

func (idx *Indexer) removeContribution(c *contribution) {
	for _, s := range c.spends {
		idx.store.removeSpend(s.addr, s.rec)
	}
	for _, o := range c.outputs {
		idx.store.removeOutput(o.addr, o.rec)
	}
}

// expire drops transactions that outlived the transaction lifetime. It must
// run on the strand.
func (idx *Indexer) expire(now time.Time) {
	if idx.scanInterval > 0 && now.Sub(idx.lastExpiryScan) < idx.scanInterval {
		return
	}
	idx.lastExpiryScan = now

	n := idx.expiry.evictExpired(now, idx.lifetime, func(txid types.Hash32) {
		if c, ok := idx.contributions[txid]; ok {
			idx.removeContribution(c)
			delete(idx.contributions, txid)
		}
	})
	if n == 0 {
		return
	}

	prometheusEvicted.Add(float64(n))
	idx.updateGauges()
	idx.log.Debugf("evicted %d transactions older than %s", n, idx.lifetime)
}

func (idx *Indexer) updateGauges() {
	prometheusTransactions.Set(float64(idx.expiry.len()))
	prometheusAddresses.Set(float64(len(idx.store.spends) + len(idx.store.outputs)))
}
