package arrowexport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultFlightPort is used when an address carries no port.
const DefaultFlightPort = 3000

// PathRoot is the first element of every exported descriptor path.
const PathRoot = "circuit"

// Sink receives exported records by kind.
type Sink interface {
	Name() string
	Put(ctx context.Context, kind string, rec arrow.Record) error
}

// FlightClient pushes records to an Arrow Flight endpoint with DoPut.
type FlightClient struct {
	client  flight.Client
	addr    string
	mem     memory.Allocator
	timeout time.Duration
}

// NewFlightClient prepares a client for addr ("host:port", or a bare host
// on DefaultFlightPort). Call Connect before Put.
func NewFlightClient(addr string, mem memory.Allocator) *FlightClient {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultFlightPort))
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &FlightClient{addr: addr, mem: mem, timeout: 30 * time.Second}
}

func (fc *FlightClient) Name() string { return "flight" }

// Connect dials the Flight server.
func (fc *FlightClient) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddleware(fc.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	fc.client = client
	return nil
}

func (fc *FlightClient) Close() error {
	if fc.client != nil {
		return fc.client.Close()
	}
	return nil
}

// Descriptor is the path a record of kind is stored under.
func Descriptor(runID, kind string) *flight.FlightDescriptor {
	return &flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{PathRoot, runID, kind},
	}
}

// Put streams rec under circuit/<run_id>/<kind> and waits for the server to
// acknowledge.
func (fc *FlightClient) Put(ctx context.Context, kind string, rec arrow.Record) error {
	if fc.client == nil {
		return fmt.Errorf("client not connected, call Connect() first")
	}
	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	stream, err := fc.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("failed to open DoPut stream: %w", err)
	}
	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(fc.mem))
	w.SetFlightDescriptor(Descriptor(Metadata(rec, metaRunID), kind))
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("DoPut failed: %w", err)
		}
	}
}

// MemorySink keeps records in memory keyed by kind.
type MemorySink struct {
	mu   sync.RWMutex
	data map[string][]arrow.Record
}

func NewMemorySink() *MemorySink {
	return &MemorySink{data: make(map[string][]arrow.Record)}
}

func (m *MemorySink) Name() string { return "memory" }

func (m *MemorySink) Put(_ context.Context, kind string, rec arrow.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Retain()
	m.data[kind] = append(m.data[kind], rec)
	return nil
}

// Records returns the records stored under kind.
func (m *MemorySink) Records(kind string) []arrow.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]arrow.Record(nil), m.data[kind]...)
}

// Reset releases every stored record.
func (m *MemorySink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, recs := range m.data {
		for _, r := range recs {
			r.Release()
		}
	}
	m.data = make(map[string][]arrow.Record)
}
