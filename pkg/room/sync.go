package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"
)

func readAndReceiveMessage(conn *websocket.Conn, syncState *automerge.SyncState) error {
	mt, p, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}
	switch mt {
	case websocket.BinaryMessage:
		if _, err := syncState.ReceiveMessage(p); err != nil {
			return fmt.Errorf("failed to receive message: %w", err)
		}
	default:
	}
	return nil
}

func generateAndWriteMessage(conn *websocket.Conn, syncState *automerge.SyncState) (bool, error) {
	if msg, valid := syncState.GenerateMessage(); msg != nil {
		if err := conn.WriteMessage(websocket.BinaryMessage, msg.Bytes()); err != nil {
			return false, fmt.Errorf("failed to write message: %w", err)
		}
		return valid, nil
	}
	return false, nil
}

// Sync runs the bidirectional automerge sync protocol between a
// websocket connection and a sync state until the connection drops or
// ctx is cancelled. The reader applies whatever arrives, in any order;
// the writer drains pending messages and then keeps polling on a ticker
// so changes made to the document by other connections reach this peer.
func Sync(ctx context.Context, conn *websocket.Conn, syncState *automerge.SyncState) error {
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer conn.Close()
		for {
			if err := readAndReceiveMessage(conn, syncState); err != nil {
				slog.Debug("sync read loop finished", "err", err)
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer conn.Close()

		for {
			if ok, err := generateAndWriteMessage(conn, syncState); err != nil {
				slog.Debug("sync write loop finished", "err", err)
				return
			} else if !ok {
				break
			}
		}

		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				for {
					if ok, err := generateAndWriteMessage(conn, syncState); err != nil {
						slog.Debug("sync write loop finished", "err", err)
						return
					} else if !ok {
						break
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	return nil
}
