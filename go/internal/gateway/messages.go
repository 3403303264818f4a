package gateway

import (
	"time"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/narration"
)

// MessageType identifies a websocket message
type MessageType string

// Client → server
const (
	MessageRegister       MessageType = "register"
	MessageLogin          MessageType = "login"
	MessageLogout         MessageType = "logout"
	MessageAddCards       MessageType = "add_cards"
	MessageSetPreference  MessageType = "set_preference"
	MessageClaimBingo     MessageType = "claim_bingo"
	MessageAcquireCaller  MessageType = "acquire_caller"
	MessageReleaseCaller  MessageType = "release_caller"
	MessageSetGameMode    MessageType = "set_game_mode"
	MessageScheduleGame   MessageType = "schedule_game"
	MessageRemoveGame     MessageType = "remove_game"
	MessageStartCountdown MessageType = "start_countdown"
	MessageStartGame      MessageType = "start_game"
	MessageResetGame      MessageType = "reset_game"
	MessageAnnounceResult MessageType = "announce_result"
)

// Server → client
const (
	MessageState    MessageType = "state"
	MessageAck      MessageType = "ack"
	MessageError    MessageType = "error"
	MessageAnnounce MessageType = "announce"
)

// ClientMessage is a command sent by a session. Only the fields of the
// given type are read.
type ClientMessage struct {
	Type           MessageType       `json:"type"`
	RequestID      string            `json:"request_id,omitempty"`
	Name           string            `json:"name,omitempty"`
	Password       string            `json:"password,omitempty"`
	Count          int               `json:"count,omitempty"`
	Mode           string            `json:"mode,omitempty"`
	CardID         string            `json:"card_id,omitempty"`
	StartTime      time.Time         `json:"start_time,omitzero"`
	GameID         string            `json:"game_id,omitempty"`
	Seconds        int               `json:"seconds,omitempty"`
	AnnouncementID string            `json:"announcement_id,omitempty"`
	Outcome        narration.Outcome `json:"outcome,omitempty"`
}

// ServerMessage is sent to sessions
type ServerMessage struct {
	Type           MessageType             `json:"type"`
	RequestID      string                  `json:"request_id,omitempty"`
	State          *models.PublicGameState `json:"state,omitempty"`
	Data           any                     `json:"data,omitempty"`
	Error          string                  `json:"error,omitempty"`
	AnnouncementID string                  `json:"announcement_id,omitempty"`
	Text           string                  `json:"text,omitempty"`
}

func stateMessage(st *models.GameState) ServerMessage {
	public := st.Public()
	return ServerMessage{Type: MessageState, State: &public}
}
