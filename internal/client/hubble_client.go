package client

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"ids-guard/internal/ingest"
	"ids-guard/internal/model"

	"github.com/cilium/cilium/api/v1/observer"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const hubbleAttackType = "NA"

// FlowFetcher returns the flows observed in [start, end).
type FlowFetcher interface {
	FetchWindow(ctx context.Context, start, end time.Time, limit int) ([]model.NormalizedRecord, error)
}

// HubbleGRPCClient reads historical flows from a Hubble relay.
type HubbleGRPCClient struct {
	conn   *grpc.ClientConn
	server string
	logger *logrus.Logger
}

func NewHubbleGRPCClient(server string, logger *logrus.Logger) (*HubbleGRPCClient, error) {
	conn, err := grpc.Dial(server, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Hubble server: %v", err)
	}

	return &HubbleGRPCClient{
		conn:   conn,
		server: server,
		logger: logger,
	}, nil
}

func (c *HubbleGRPCClient) Close() error {
	return c.conn.Close()
}

func (c *HubbleGRPCClient) Server() string {
	return c.server
}

// FetchWindow streams the flows recorded between start and end. A limit of
// zero or less reads the whole window.
func (c *HubbleGRPCClient) FetchWindow(ctx context.Context, start, end time.Time, limit int) ([]model.NormalizedRecord, error) {
	client := observer.NewObserverClient(c.conn)

	req := &observer.GetFlowsRequest{
		Since: timestamppb.New(start),
		Until: timestamppb.New(end),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := client.GetFlows(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: hubble %s: %v", ingest.ErrSourceUnavailable, c.server, err)
	}

	var records []model.NormalizedRecord
	for limit <= 0 || len(records) < limit {
		response, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return records, fmt.Errorf("failed to receive flow: %v", err)
		}

		if record, ok := convertHubbleFlow(response.GetFlow()); ok {
			records = append(records, record)
		}
	}

	c.logger.Debugf("[Hubble] fetched %d flows for window %s - %s", len(records), start.Format(time.RFC3339), end.Format(time.RFC3339))
	return records, nil
}

// convertHubbleFlow keeps flows with an L3 header; the port is zero for
// protocols without one.
func convertHubbleFlow(hubbleFlow *observer.Flow) (model.NormalizedRecord, bool) {
	if hubbleFlow == nil || hubbleFlow.GetIP() == nil {
		return model.NormalizedRecord{}, false
	}

	record := model.NormalizedRecord{
		SrcIP:      hubbleFlow.GetIP().GetSource(),
		DestIP:     hubbleFlow.GetIP().GetDestination(),
		Proto:      "NA",
		AttackType: hubbleAttackType,
	}
	if record.SrcIP == "" {
		return model.NormalizedRecord{}, false
	}

	if hubbleFlow.GetTime() != nil {
		record.Timestamp = hubbleFlow.GetTime().AsTime().UTC().Format(time.RFC3339Nano)
	}

	if l4 := hubbleFlow.GetL4(); l4 != nil {
		switch {
		case l4.GetTCP() != nil:
			record.Proto = "TCP"
			record.DestPort = int(l4.GetTCP().GetDestinationPort())
		case l4.GetUDP() != nil:
			record.Proto = "UDP"
			record.DestPort = int(l4.GetUDP().GetDestinationPort())
		case l4.GetSCTP() != nil:
			record.Proto = "SCTP"
			record.DestPort = int(l4.GetSCTP().GetDestinationPort())
		case l4.GetICMPv4() != nil:
			record.Proto = "ICMP"
		case l4.GetICMPv6() != nil:
			record.Proto = "IPv6-ICMP"
		}
	}

	return record, true
}

// HubbleWindowLister exposes the last complete time windows of a Hubble relay
// as capture sources, so each window is ingested once.
type HubbleWindowLister struct {
	fetcher    FlowFetcher
	server     string
	window     time.Duration
	maxWindows int
	now        func() time.Time
}

func NewHubbleWindowLister(fetcher FlowFetcher, server string, window time.Duration, maxWindows int) *HubbleWindowLister {
	if window <= 0 {
		window = time.Minute
	}
	if maxWindows <= 0 {
		maxWindows = 5
	}
	return &HubbleWindowLister{
		fetcher:    fetcher,
		server:     server,
		window:     window,
		maxWindows: maxWindows,
		now:        time.Now,
	}
}

// Sources returns the complete windows before now, oldest first.
func (l *HubbleWindowLister) Sources(ctx context.Context) ([]ingest.CaptureSource, error) {
	end := l.now().UTC().Truncate(l.window)
	sources := make([]ingest.CaptureSource, 0, l.maxWindows)
	for i := l.maxWindows; i > 0; i-- {
		start := end.Add(-time.Duration(i) * l.window)
		sources = append(sources, &hubbleWindow{
			lister: l,
			start:  start,
			end:    start.Add(l.window),
		})
	}
	return sources, nil
}

type hubbleWindow struct {
	lister *HubbleWindowLister
	start  time.Time
	end    time.Time
}

func (w *hubbleWindow) ID() string {
	return "hubble://" + w.lister.server + "/" + strconv.FormatInt(w.start.Unix(), 10)
}

func (w *hubbleWindow) Records(ctx context.Context, limit int) ([]model.NormalizedRecord, error) {
	return w.lister.fetcher.FetchWindow(ctx, w.start, w.end, limit)
}
