package services

import (
	"context"
	"fmt"

	"github.com/faeln1/go-whatsapp-council/internal/platform/whatsapp"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

type MessageEventListener interface {
	HandleMessage(ctx context.Context, sessionName string, evt *events.Message)
}

type CommunityEventListener interface {
	HandleGroupInfo(ctx context.Context, sessionName string, evt *events.GroupInfo)
}

type SessionBootstrap struct {
	StoreFactory *whatsapp.StoreFactory
	Manager      *whatsapp.Manager
	Log          waLog.Logger
	Events       MessageEventListener
	GroupEvents  CommunityEventListener
}

func NewSessionBootstrap(f *whatsapp.StoreFactory, m *whatsapp.Manager, log waLog.Logger, chat *ChatEvents) *SessionBootstrap {
	b := &SessionBootstrap{StoreFactory: f, Manager: m, Log: log}
	if chat != nil {
		b.Events = chat
		b.GroupEvents = chat
	}
	return b
}

// InitNewSession loads (or creates) the device store, connects and returns
// the QR channel when the device still has to be paired.
func (b *SessionBootstrap) InitNewSession(ctx context.Context, sessionName string) (qr <-chan whatsmeow.QRChannelItem, alreadyLogged bool, err error) {
	if _, ok := b.Manager.Get(sessionName); !ok {
		if _, err := b.Manager.Create(sessionName); err != nil {
			return nil, false, err
		}
	}
	container, err := b.StoreFactory.NewDeviceStore(ctx, sessionName)
	if err != nil {
		return nil, false, err
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, false, err
	}
	client := whatsmeow.NewClient(device, b.Log.Sub("Client"))

	client.AddEventHandler(func(evt any) {
		switch e := evt.(type) {
		case *events.Message:
			if b.Events == nil || e.Message.GetReactionMessage() == nil {
				return
			}
			dup := cloneMessageEvent(e)
			if dup == nil {
				return
			}
			go b.Events.HandleMessage(context.Background(), sessionName, dup)

		case *events.GroupInfo:
			if b.GroupEvents == nil || len(e.Leave) == 0 {
				return
			}
			dup := cloneGroupInfoEvent(e)
			if dup == nil {
				return
			}
			go b.GroupEvents.HandleGroupInfo(context.Background(), sessionName, dup)
		}
	})

	var qrChan <-chan whatsmeow.QRChannelItem
	if device.ID == nil {
		// The QR channel must be requested before connecting.
		qrChan, err = client.GetQRChannel(context.Background())
		if err != nil {
			return nil, false, fmt.Errorf("failed to get QR channel: %w", err)
		}
	}
	if err = client.Connect(); err != nil {
		return nil, false, fmt.Errorf("connect failed: %w", err)
	}

	if err := b.Manager.AttachClient(sessionName, device, client, qrChan); err != nil {
		return nil, false, err
	}
	if sess, ok := b.Manager.Get(sessionName); ok {
		b.Manager.StartEventLoop(sess)
	}
	return qrChan, device.ID != nil, nil
}

func cloneMessageEvent(evt *events.Message) *events.Message {
	if evt == nil {
		return nil
	}
	dup := *evt
	if evt.Message != nil {
		if msg, ok := proto.Clone(evt.Message).(*waE2E.Message); ok {
			dup.Message = msg
		}
	}
	if evt.RawMessage != nil {
		if msg, ok := proto.Clone(evt.RawMessage).(*waE2E.Message); ok {
			dup.RawMessage = msg
		}
	}
	return &dup
}

func cloneGroupInfoEvent(evt *events.GroupInfo) *events.GroupInfo {
	if evt == nil {
		return nil
	}
	dup := *evt
	if len(evt.Join) > 0 {
		dup.Join = append([]types.JID(nil), evt.Join...)
	}
	if len(evt.Leave) > 0 {
		dup.Leave = append([]types.JID(nil), evt.Leave...)
	}
	return &dup
}
