package session

import (
	"time"

	"voxeledit/internal/edit"
	"voxeledit/internal/geom"
	"voxeledit/internal/shape"
)

// Client message types.
const (
	TypeFill    = "fill"
	TypeReplace = "replace"
	TypeSet     = "set"
	TypeBiome   = "biome"
	TypeUndo    = "undo"
	TypeRedo    = "redo"
	TypeStatus  = "status"
)

// Server message types.
const (
	TypeWelcome = "welcome"
	TypeAck     = "ack"
	TypeError   = "error"
	TypeMessage = "message"
	TypeDelta   = "delta"
)

// ClientMessage is a request sent by an owner. Seq is echoed in the reply.
type ClientMessage struct {
	Type     string            `json:"type"`
	Seq      uint64            `json:"seq,omitempty"`
	At       geom.Vec          `json:"at"`
	Shape    *shape.Descriptor `json:"shape,omitempty"`
	Material string            `json:"material,omitempty"`
	From     string            `json:"from,omitempty"`
	To       string            `json:"to,omitempty"`
	Biome    string            `json:"biome,omitempty"`
	Blocks   []BlockRequest    `json:"blocks,omitempty"`
	Count    int               `json:"count,omitempty"`
}

type BlockRequest struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Z        int    `json:"z"`
	Material string `json:"material"`
}

// ServerMessage is anything pushed to a session.
type ServerMessage struct {
	Type    string       `json:"type"`
	Seq     uint64       `json:"seq,omitempty"`
	Session string       `json:"session,omitempty"`
	Owner   string       `json:"owner,omitempty"`
	Text    string       `json:"text,omitempty"`
	Error   string       `json:"error,omitempty"`
	Kind    string       `json:"kind,omitempty"`
	Volume  int          `json:"volume,omitempty"`
	Count   int          `json:"count,omitempty"`
	Status  *edit.Status `json:"status,omitempty"`
	Deltas  []ChunkDelta `json:"deltas,omitempty"`
}

// ChunkDelta lists the cells of one chunk that changed since the previous
// broadcast.
type ChunkDelta struct {
	ChunkX    int          `json:"chunkX"`
	ChunkZ    int          `json:"chunkZ"`
	Seq       uint64       `json:"seq"`
	Timestamp time.Time    `json:"timestamp"`
	Blocks    []BlockDelta `json:"blocks,omitempty"`
	Biomes    []BiomeDelta `json:"biomes,omitempty"`
}

type BlockDelta struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Z        int    `json:"z"`
	Material string `json:"material"`
	Reason   string `json:"reason"`
}

type BiomeDelta struct {
	X     int    `json:"x"`
	Z     int    `json:"z"`
	Biome string `json:"biome"`
}
