// Package pipeline implements the block splitter and the compress→encrypt
// worker pool that sits between the scanner and the block store (C6). One
// producer (the coordinator, calling ProcessFile) reads a file's plaintext
// blocks sequentially; W long-lived workers perform the CPU-bound
// compress+encrypt step; one long-lived writer thread performs every
// destination write, so ordering and fsync strategy stay centralized in a
// single place (§5).
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/coldvault/coldvault/internal/blockstore"
	"github.com/coldvault/coldvault/internal/compress"
	"github.com/coldvault/coldvault/internal/crypto"
	"github.com/coldvault/coldvault/internal/engerr"
)

// Checker is the read-only index access the producer needs to decide
// whether a plaintext block is already stored.
type Checker interface {
	BlockExists(ctx context.Context, hash string) (bool, error)
}

// Block is one block of a committed file, as returned by ProcessFile —
// mirrors index.BlockPlan without importing the index package (pipeline
// must not depend on it; only the coordinator wires the two together).
type Block struct {
	Hash string
	Size int // compressed payload length; 0 if the block was already known
}

type workItem struct {
	plaintext []byte
	replyTo   chan workResult
}

type workResult struct {
	encrypted     []byte
	compressedLen int
	err           error
}

type writeRequest struct {
	hash    string
	object  []byte
	replyTo chan error
}

// Pipeline owns the long-lived worker pool and writer goroutine for one
// backup run. Create it once and call ProcessFile once per file.
type Pipeline struct {
	store      *blockstore.Store
	cipher     *crypto.Cipher
	blockSize  int
	workers    int
	queueDepth int

	workCh  chan workItem
	writeCh chan writeRequest

	stop chan struct{}
	done chan struct{}

	// poisonCh receives the writer's first unexpected destination error;
	// once it holds one, ProcessFile refuses new files (§5's cancellation policy).
	poisonCh chan error
}

// Config bundles the pipeline's concurrency and block-size parameters.
type Config struct {
	BlockSize  int
	Workers    int
	QueueDepth int
}

// New starts the worker pool and writer goroutine. Call Close when the run
// is complete.
func New(store *blockstore.Store, cipher *crypto.Cipher, cfg Config) *Pipeline {
	p := &Pipeline{
		store:      store,
		cipher:     cipher,
		blockSize:  cfg.BlockSize,
		workers:    cfg.Workers,
		queueDepth: cfg.QueueDepth,
		workCh:     make(chan workItem, cfg.QueueDepth),
		writeCh:    make(chan writeRequest, cfg.QueueDepth),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		poisonCh:   make(chan error, 1),
	}

	for i := 0; i < p.workers; i++ {
		go p.worker()
	}
	go p.writer()

	return p
}

// Store returns the block store this pipeline writes through, so the
// coordinator's cleanup pass can delete unreferenced objects without
// opening a second handle on the destination.
func (p *Pipeline) Store() *blockstore.Store { return p.store }

// Close stops the worker pool and writer. ProcessFile must not be called
// after Close.
func (p *Pipeline) Close() {
	close(p.stop)
	close(p.workCh)
	<-p.done
}

func (p *Pipeline) worker() {
	for item := range p.workCh {
		compressed, err := compress.Compress(item.plaintext)
		if err != nil {
			item.replyTo <- workResult{err: err}
			continue
		}
		encrypted, err := p.cipher.Encrypt(compressed)
		if err != nil {
			item.replyTo <- workResult{err: err}
			continue
		}
		item.replyTo <- workResult{encrypted: encrypted, compressedLen: len(compressed)}
	}
}

func (p *Pipeline) writer() {
	defer close(p.done)
	for {
		select {
		case req, ok := <-p.writeCh:
			if !ok {
				return
			}
			err := p.store.Put(req.hash, req.object)
			if err != nil {
				select {
				case p.poisonCh <- err:
				default:
				}
			}
			req.replyTo <- err
		case <-p.stop:
			return
		}
	}
}

// poisoned reports whether the writer has reported a fatal destination
// error, and returns it if so.
func (p *Pipeline) poisoned() error {
	select {
	case err := <-p.poisonCh:
		p.poisonCh <- err // leave it for the next check too
		return err
	default:
		return nil
	}
}

// ProcessFile splits the file at absPath into plaintext blocks of up to
// BlockSize bytes, hashes each one, skips any block the index already
// knows about, and dispatches the rest through the worker pool and writer.
// It returns the ordered list of block descriptors for the whole file.
//
// Blocks are read and submitted in source order; results are reassembled
// by ordinal regardless of which worker finishes first, satisfying §5's
// within-file ordering guarantee.
func (p *Pipeline) ProcessFile(ctx context.Context, absPath string, checker Checker) ([]Block, error) {
	if err := p.poisoned(); err != nil {
		return nil, fmt.Errorf("%w: %v", engerr.ErrPipelinePoisoned, err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", engerr.ErrIO, absPath, err)
	}
	defer f.Close()

	type pending struct {
		ordinal int
		hash    string
		reply   chan workResult
	}

	var results []Block
	var inFlight []pending
	buf := make([]byte, p.blockSize)

	for ordinal := 0; ; ordinal++ {
		n, readErr := io.ReadFull(f, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			return nil, fmt.Errorf("%w: read %s: %v", engerr.ErrIO, absPath, readErr)
		}
		if n == 0 {
			break
		}

		plaintext := make([]byte, n)
		copy(plaintext, buf[:n])
		hash := blockstore.HashBlock(plaintext)

		exists, err := checker.BlockExists(ctx, hash)
		if err != nil {
			return nil, err
		}

		results = append(results, Block{Hash: hash})

		if !exists {
			reply := make(chan workResult, 1)
			select {
			case p.workCh <- workItem{plaintext: plaintext, replyTo: reply}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			inFlight = append(inFlight, pending{ordinal: ordinal, hash: hash, reply: reply})
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
	}

	for _, pend := range inFlight {
		var res workResult
		select {
		case res = <-pend.reply:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if res.err != nil {
			return nil, fmt.Errorf("%s: %w", absPath, res.err)
		}

		ack := make(chan error, 1)
		select {
		case p.writeCh <- writeRequest{hash: pend.hash, object: res.encrypted, replyTo: ack}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		var writeErr error
		select {
		case writeErr = <-ack:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if writeErr != nil {
			return nil, writeErr
		}

		results[pend.ordinal].Size = res.compressedLen
	}

	return results, nil
}
