package addrindex

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xb10c/mempool-addrindex/src/strand"
	"github.com/0xb10c/mempool-addrindex/src/test"
	"github.com/0xb10c/mempool-addrindex/src/types"
)

var errUnknownPrevout = errors.New("unknown previous output")

// testResolver attributes outputs by their script and inputs by the script
// of a previously registered output.
type testResolver struct {
	mu       sync.Mutex
	prevouts map[wire.OutPoint][]byte
}

func newTestResolver() *testResolver {
	return &testResolver{prevouts: map[wire.OutPoint][]byte{}}
}

func (r *testResolver) register(txs ...*wire.MsgTx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range txs {
		hash := tx.TxHash()
		for i, out := range tx.TxOut {
			r.prevouts[*wire.NewOutPoint(&hash, uint32(i))] = out.PkScript
		}
	}
}

func (r *testResolver) scriptAddress(pkScript []byte) (types.Address, bool, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, test.Params)
	if err != nil {
		return types.Address{}, false, err
	}
	if len(addrs) != 1 {
		return types.Address{}, false, nil
	}
	addr, err := types.NewAddress(addrs[0])
	if err != nil {
		return types.Address{}, false, err
	}
	return addr, true, nil
}

func (r *testResolver) OutputAddress(out *wire.TxOut) (types.Address, bool, error) {
	return r.scriptAddress(out.PkScript)
}

func (r *testResolver) PreviousOutput(in *wire.TxIn) (types.OutputPoint, types.Address, bool, error) {
	r.mu.Lock()
	pkScript, ok := r.prevouts[in.PreviousOutPoint]
	r.mu.Unlock()
	if !ok {
		return types.OutputPoint{}, types.Address{}, false, errUnknownPrevout
	}
	prev := types.OutputPoint{
		TxID:  types.NewHashFromChainhash(in.PreviousOutPoint.Hash),
		Index: in.PreviousOutPoint.Index,
	}
	addr, ok, err := r.scriptAddress(pkScript)
	return prev, addr, ok, err
}

func newTestIndexer(t *testing.T, resolver AddressResolver, clk clock.Clock) *Indexer {
	idx, err := New(Config{
		Resolver: resolver,
		Clock:    clk,
	})
	require.NoError(t, err)
	t.Cleanup(idx.Stop)
	return idx
}

func index(idx *Indexer, tx *wire.MsgTx) error {
	done := make(chan error, 1)
	idx.Index(tx, func(err error) { done <- err })
	return <-done
}

func deindex(idx *Indexer, tx *wire.MsgTx) error {
	done := make(chan error, 1)
	idx.Deindex(tx, func(err error) { done <- err })
	return <-done
}

func query(t *testing.T, idx *Indexer, addr types.Address) ([]types.SpendRecord, []types.OutputRecord) {
	type result struct {
		spends  []types.SpendRecord
		outputs []types.OutputRecord
	}
	done := make(chan result, 1)
	idx.Query(addr, func(err error, spends []types.SpendRecord, outputs []types.OutputRecord) {
		assert.NoError(t, err)
		done <- result{spends, outputs}
	})
	res := <-done
	return res.spends, res.outputs
}

func stats(idx *Indexer) Stats {
	done := make(chan Stats, 1)
	idx.Stats(func(s Stats) { done <- s })
	return <-done
}

// indexState is a deep copy of everything the strand owns.
type indexState struct {
	spends        map[types.Address][]types.SpendRecord
	outputs       map[types.Address][]types.OutputRecord
	expiry        []types.TimestampedEntry
	contributions map[types.Hash32]struct{}
}

func snapshot(t *testing.T, idx *Indexer) indexState {
	done := make(chan indexState, 1)
	require.NoError(t, idx.strand.Post(func() {
		st := indexState{
			spends:        map[types.Address][]types.SpendRecord{},
			outputs:       map[types.Address][]types.OutputRecord{},
			expiry:        idx.expiry.snapshot(),
			contributions: map[types.Hash32]struct{}{},
		}
		for addr, recs := range idx.store.spends {
			st.spends[addr] = append([]types.SpendRecord{}, recs...)
		}
		for addr, recs := range idx.store.outputs {
			st.outputs[addr] = append([]types.OutputRecord{}, recs...)
		}
		for txid := range idx.contributions {
			st.contributions[txid] = struct{}{}
		}
		done <- st
	}))
	return <-done
}

func TestNew_RequiresResolver(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestIndexer_Scenario(t *testing.T) {
	resolver := newTestResolver()
	idx := newTestIndexer(t, resolver, clock.NewMock())
	a := test.GetIndexAddress("A")

	t1 := test.NewTx(1, test.Pay("A", 5000))
	resolver.register(t1)
	require.NoError(t, index(idx, t1))

	spends, outputs := query(t, idx, a)
	assert.Empty(t, spends)
	assert.Equal(t, []types.OutputRecord{{
		Point: types.OutputPoint{TxID: test.TxID(t1), Index: 0},
		Value: 5000,
	}}, outputs)

	t2 := test.NewSpendingTx([]test.Prevout{test.PrevoutOf(t1, 0, "A")}, test.Pay("B", 4000))
	resolver.register(t2)
	require.NoError(t, index(idx, t2))

	spends, outputs = query(t, idx, a)
	assert.Len(t, outputs, 1)
	assert.Equal(t, []types.SpendRecord{{
		Point:          types.InputPoint{TxID: test.TxID(t2), Index: 0},
		PreviousOutput: types.OutputPoint{TxID: test.TxID(t1), Index: 0},
	}}, spends)

	_, outputs = query(t, idx, test.GetIndexAddress("B"))
	assert.Len(t, outputs, 1)

	require.NoError(t, deindex(idx, t1))
	require.NoError(t, deindex(idx, t2))

	spends, outputs = query(t, idx, a)
	assert.Empty(t, spends)
	assert.Empty(t, outputs)
	assert.Equal(t, Stats{}, stats(idx))
}

func TestIndexer_QueryUnknownAddress(t *testing.T) {
	idx := newTestIndexer(t, newTestResolver(), clock.NewMock())

	spends, outputs := query(t, idx, test.GetIndexAddress("nobody"))
	assert.NotNil(t, spends)
	assert.NotNil(t, outputs)
	assert.Empty(t, spends)
	assert.Empty(t, outputs)
}

func TestIndexer_RoundTrip(t *testing.T) {
	resolver := newTestResolver()
	clk := clock.NewMock()
	idx := newTestIndexer(t, resolver, clk)

	// some unrelated state that has to survive the round trip
	base := test.NewTx(1, test.Pay("A", 1000), test.Pay("B", 2000), test.Pay("A", 3000))
	resolver.register(base)
	require.NoError(t, index(idx, base))
	clk.Add(time.Minute)

	before := snapshot(t, idx)

	tx := test.NewSpendingTx(
		[]test.Prevout{test.PrevoutOf(base, 0, "A"), test.PrevoutOf(base, 1, "B")},
		test.Pay("A", 500), test.Pay("C", 2400),
	)
	resolver.register(tx)
	require.NoError(t, index(idx, tx))
	assert.NotEqual(t, before, snapshot(t, idx))

	require.NoError(t, deindex(idx, tx))
	assert.Equal(t, before, snapshot(t, idx))
}

func TestIndexer_DeindexIdempotent(t *testing.T) {
	resolver := newTestResolver()
	idx := newTestIndexer(t, resolver, clock.NewMock())

	tx := test.NewTx(1, test.Pay("A", 5000))
	resolver.register(tx)
	require.NoError(t, index(idx, tx))

	require.NoError(t, deindex(idx, tx))
	first := snapshot(t, idx)
	require.NoError(t, deindex(idx, tx))
	assert.Equal(t, first, snapshot(t, idx))

	// deindex of a transaction that was never indexed
	other := test.NewTx(2, test.Pay("B", 1))
	require.NoError(t, deindex(idx, other))
	assert.Equal(t, first, snapshot(t, idx))
}

func TestIndexer_DuplicateIndex(t *testing.T) {
	resolver := newTestResolver()
	idx := newTestIndexer(t, resolver, clock.NewMock())

	tx := test.NewTx(1, test.Pay("A", 5000))
	require.NoError(t, index(idx, tx))
	require.NoError(t, index(idx, tx))

	_, outputs := query(t, idx, test.GetIndexAddress("A"))
	assert.Len(t, outputs, 1)
	assert.Equal(t, 1, stats(idx).Transactions)
}

func TestIndexer_Expiry(t *testing.T) {
	resolver := newTestResolver()
	clk := clock.NewMock()
	idx := newTestIndexer(t, resolver, clk)
	a := test.GetIndexAddress("A")

	t1 := test.NewTx(1, test.Pay("A", 5000))
	require.NoError(t, index(idx, t1))

	clk.Add(DefaultTransactionLifetime - time.Second)

	// a mutation just before the lifetime ends keeps the record
	t2 := test.NewTx(2, test.Pay("B", 1))
	require.NoError(t, index(idx, t2))
	_, outputs := query(t, idx, a)
	assert.Len(t, outputs, 1)

	clk.Add(time.Second)

	// queries do not evict
	_, outputs = query(t, idx, a)
	assert.Len(t, outputs, 1)

	// the next mutation does
	require.NoError(t, deindex(idx, test.NewTx(3)))
	_, outputs = query(t, idx, a)
	assert.Empty(t, outputs)

	st := stats(idx)
	assert.Equal(t, 1, st.Transactions)
	assert.Equal(t, 1, st.Outputs)

	// deindexing an expired transaction succeeds
	require.NoError(t, deindex(idx, t1))
	assert.Equal(t, st, stats(idx))
}

func TestIndexer_ExpiryRemovesSpends(t *testing.T) {
	resolver := newTestResolver()
	clk := clock.NewMock()
	idx := newTestIndexer(t, resolver, clk)

	funding := test.NewTx(1, test.Pay("A", 5000))
	resolver.register(funding)
	spend := test.NewSpendingTx([]test.Prevout{test.PrevoutOf(funding, 0, "A")}, test.Pay("B", 4000))
	require.NoError(t, index(idx, spend))

	spends, _ := query(t, idx, test.GetIndexAddress("A"))
	assert.Len(t, spends, 1)

	clk.Add(2 * DefaultTransactionLifetime)
	require.NoError(t, index(idx, test.NewTx(2)))

	spends, _ = query(t, idx, test.GetIndexAddress("A"))
	assert.Empty(t, spends)
	_, outputs := query(t, idx, test.GetIndexAddress("B"))
	assert.Empty(t, outputs)
}

func TestIndexer_ExpiryScanInterval(t *testing.T) {
	clk := clock.NewMock()
	idx, err := New(Config{
		Resolver:            newTestResolver(),
		Clock:               clk,
		TransactionLifetime: time.Minute,
		ExpiryScanInterval:  2 * time.Minute,
	})
	require.NoError(t, err)
	defer idx.Stop()

	// the first mutation scans
	require.NoError(t, index(idx, test.NewTx(1, test.Pay("A", 1))))

	// tx 1 is expired, but the last scan was only 90s ago
	clk.Add(90 * time.Second)
	require.NoError(t, index(idx, test.NewTx(2)))
	assert.Equal(t, 2, stats(idx).Transactions)

	clk.Add(30 * time.Second)
	require.NoError(t, index(idx, test.NewTx(3)))
	assert.Equal(t, 2, stats(idx).Transactions)
	_, outputs := query(t, idx, test.GetIndexAddress("A"))
	assert.Empty(t, outputs)
}

func TestIndexer_ExtractionFailure(t *testing.T) {
	resolver := newTestResolver()
	idx := newTestIndexer(t, resolver, clock.NewMock())

	funding := test.NewTx(1, test.Pay("A", 5000), test.Pay("A", 6000))
	resolver.register(funding)
	require.NoError(t, index(idx, funding))

	before := snapshot(t, idx)

	// the second prevout is unknown to the resolver
	unknown := test.NewTx(99, test.Pay("X", 1))
	tx := test.NewSpendingTx(
		[]test.Prevout{test.PrevoutOf(funding, 0, "A"), test.PrevoutOf(unknown, 0, "X")},
		test.Pay("B", 4000),
	)

	err := index(idx, tx)
	require.Error(t, err)
	assert.True(t, IsErrorExtraction(err))
	assert.Equal(t, errUnknownPrevout, errors.Unwrap(err))

	var extractionErr *ErrorExtraction
	require.True(t, errors.As(err, &extractionErr))
	assert.True(t, extractionErr.Input)
	assert.Equal(t, uint32(1), extractionErr.Index)
	assert.Equal(t, test.TxID(tx), extractionErr.TxID)

	// nothing of tx was indexed, not even its outputs
	assert.Equal(t, before, snapshot(t, idx))

	// tx was never indexed, so deindex has to resolve it and fails the same way
	err = deindex(idx, tx)
	assert.True(t, IsErrorExtraction(err))
	assert.Equal(t, before, snapshot(t, idx))
}

func TestIndexer_DeindexAfterResolverForgetsPrevout(t *testing.T) {
	resolver := newTestResolver()
	idx := newTestIndexer(t, resolver, clock.NewMock())

	funding := test.NewTx(1, test.Pay("A", 5000))
	resolver.register(funding)
	spend := test.NewSpendingTx([]test.Prevout{test.PrevoutOf(funding, 0, "A")}, test.Pay("B", 4000))
	require.NoError(t, index(idx, funding))
	require.NoError(t, index(idx, spend))

	// the funding output is gone from the resolver's view, e.g. pruned
	resolver.mu.Lock()
	resolver.prevouts = map[wire.OutPoint][]byte{}
	resolver.mu.Unlock()

	require.NoError(t, deindex(idx, spend))
	spends, _ := query(t, idx, test.GetIndexAddress("A"))
	assert.Empty(t, spends)
	_, outputs := query(t, idx, test.GetIndexAddress("B"))
	assert.Empty(t, outputs)

	require.NoError(t, deindex(idx, funding))
	spends, outputs = query(t, idx, test.GetIndexAddress("A"))
	assert.Empty(t, spends)
	assert.Empty(t, outputs)
	assert.Equal(t, Stats{}, stats(idx))
}

func TestIndexer_DeindexRemovesRecordedAttribution(t *testing.T) {
	resolver := newTestResolver()
	idx := newTestIndexer(t, resolver, clock.NewMock())

	funding := test.NewTx(1, test.Pay("A", 5000))
	resolver.register(funding)
	require.NoError(t, index(idx, funding))
	before := snapshot(t, idx)

	spend := test.NewSpendingTx([]test.Prevout{test.PrevoutOf(funding, 0, "A")}, test.Pay("B", 4000))
	require.NoError(t, index(idx, spend))
	spends, _ := query(t, idx, test.GetIndexAddress("A"))
	require.Len(t, spends, 1)

	// the resolver now attributes the spent output to C
	hash := funding.TxHash()
	resolver.mu.Lock()
	resolver.prevouts[*wire.NewOutPoint(&hash, 0)] = test.PayToAddrScript(test.GetAddress("C"))
	resolver.mu.Unlock()

	require.NoError(t, deindex(idx, spend))
	spends, _ = query(t, idx, test.GetIndexAddress("A"))
	assert.Empty(t, spends)
	spends, outputs := query(t, idx, test.GetIndexAddress("C"))
	assert.Empty(t, spends)
	assert.Empty(t, outputs)
	assert.Equal(t, before, snapshot(t, idx))
}

func TestIndexer_SkipsUnattributableOutputs(t *testing.T) {
	idx := newTestIndexer(t, newTestResolver(), clock.NewMock())

	nullData, err := txscript.NullDataScript([]byte("hello"))
	require.NoError(t, err)
	tx := test.NewTx(1, test.Pay("A", 5000))
	tx.AddTxOut(wire.NewTxOut(0, nullData))

	require.NoError(t, index(idx, tx))
	st := stats(idx)
	assert.Equal(t, 1, st.Transactions)
	assert.Equal(t, 1, st.Outputs)
}

func TestIndexer_NegativeValue(t *testing.T) {
	idx := newTestIndexer(t, newTestResolver(), clock.NewMock())

	tx := test.NewTx(1, test.Pay("A", 5000))
	tx.TxOut[0].Value = -1
	err := index(idx, tx)
	assert.True(t, IsErrorExtraction(err))
	assert.Equal(t, 0, stats(idx).Transactions)
}

func TestIndexer_ConcurrentIndex(t *testing.T) {
	resolver := newTestResolver()
	idx := newTestIndexer(t, resolver, clock.NewMock())

	const nWorkers = 8
	const nPerWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < nWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < nPerWorker; i++ {
				seed := fmt.Sprintf("addr-%d-%d", w, i)
				tx := test.NewTx(uint32(w*nPerWorker+i), test.Pay(seed, int64(i+1)))
				assert.NoError(t, index(idx, tx))
			}
		}(w)
	}
	wg.Wait()

	st := stats(idx)
	assert.Equal(t, nWorkers*nPerWorker, st.Transactions)
	assert.Equal(t, nWorkers*nPerWorker, st.Outputs)
	assert.Equal(t, nWorkers*nPerWorker, st.OutputAddresses)

	for w := 0; w < nWorkers; w++ {
		for i := 0; i < nPerWorker; i++ {
			_, outputs := query(t, idx, test.GetIndexAddress(fmt.Sprintf("addr-%d-%d", w, i)))
			require.Len(t, outputs, 1)
			assert.Equal(t, uint64(i+1), outputs[0].Value)
		}
	}
}

func TestIndexer_CallbacksInSubmissionOrder(t *testing.T) {
	idx := newTestIndexer(t, newTestResolver(), clock.NewMock())

	var order []int
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		i := i
		idx.Index(test.NewTx(uint32(i), test.Pay("A", 1)), func(err error) {
			assert.NoError(t, err)
			order = append(order, i)
			if i == 19 {
				close(done)
			}
		})
	}
	<-done

	for i := range order {
		assert.Equal(t, i, order[i])
	}
}

func TestIndexer_Stopped(t *testing.T) {
	idx, err := New(Config{Resolver: newTestResolver()})
	require.NoError(t, err)
	idx.Stop()

	assert.Equal(t, strand.ErrStopped, index(idx, test.NewTx(1)))
	assert.Equal(t, strand.ErrStopped, deindex(idx, test.NewTx(1)))

	called := 0
	idx.Query(test.GetIndexAddress("A"), func(err error, spends []types.SpendRecord, outputs []types.OutputRecord) {
		called++
		assert.Equal(t, strand.ErrStopped, err)
	})
	assert.Equal(t, 1, called)
	assert.Equal(t, Stats{}, stats(idx))
}
