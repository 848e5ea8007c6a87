package gpucore

import "fmt"

// Command is a single unit of recorded device work.
//
// The set of commands is closed: backends switch over the concrete types
// below and reject anything else with ErrInvalidCommand.
type Command interface {
	commandName() string
}

// ClearTexture zeroes one mip level. DrawGrid and Difference only write
// the pixels they cover, so a level that is redrawn is cleared first.
type ClearTexture struct {
	Texture TextureID
	Level   int
}

// DrawGrid rasterizes every triangle of Mesh into Target level 0. Pixels
// no triangle covers keep their previous value. Vertex warped positions place the triangle in normalized
// target space; orig positions are interpolated and used to sample
// Source at SourceLevel with bilinear filtering and mirrored-repeat
// addressing. Sampled colors are multiplied by SourceMul.
type DrawGrid struct {
	Mesh        MeshID
	Source      TextureID
	SourceLevel int
	SourceMul   float32
	Target      TextureID
}

// Difference writes, for every pixel of the Width x Height top-left
// region of Dst level 0, the absolute log-luminance difference between
// Warped (level 0) and Target sampled at TargetLevel. Pixels outside the
// region are left untouched.
type Difference struct {
	Warped      TextureID
	Target      TextureID
	TargetLevel int
	Dst         TextureID
	WarpedMul   float32
	TargetMul   float32
	Width       int
	Height      int
}

// Downsample builds Level from Level-1 with a 2x2 box filter.
type Downsample struct {
	Texture TextureID
	Level   int
}

// Barrier orders all previous writes to Texture at Level before any
// later read of it.
type Barrier struct {
	Texture TextureID
	Level   int
}

// CopyTextureToBuffer copies an entire mip level into a readback buffer
// starting at float offset Offset.
type CopyTextureToBuffer struct {
	Texture TextureID
	Level   int
	Buffer  BufferID
	Offset  int
}

func (ClearTexture) commandName() string        { return "clear" }
func (DrawGrid) commandName() string            { return "draw_grid" }
func (Difference) commandName() string          { return "difference" }
func (Downsample) commandName() string          { return "downsample" }
func (Barrier) commandName() string             { return "barrier" }
func (CopyTextureToBuffer) commandName() string { return "copy_to_buffer" }

// CommandName returns a short name for logging.
func CommandName(c Command) string {
	if c == nil {
		return "<nil>"
	}
	return c.commandName()
}

// CommandEncoder records commands for a single submission.
//
// An encoder belongs to one engine and is not safe for concurrent use.
// Finish hands the recorded list over and leaves the encoder empty, ready
// for the next submission.
type CommandEncoder struct {
	label string
	cmds  []Command
}

// NewCommandEncoder creates an empty encoder.
func NewCommandEncoder(label string) *CommandEncoder {
	return &CommandEncoder{label: label}
}

// Label returns the debug label.
func (e *CommandEncoder) Label() string { return e.label }

// Record appends a command.
func (e *CommandEncoder) Record(c Command) {
	e.cmds = append(e.cmds, c)
}

// Len returns the number of recorded commands.
func (e *CommandEncoder) Len() int { return len(e.cmds) }

// Commands returns the recorded commands without resetting.
func (e *CommandEncoder) Commands() []Command { return e.cmds }

// Finish returns the recorded commands and resets the encoder.
func (e *CommandEncoder) Finish() []Command {
	cmds := e.cmds
	e.cmds = nil
	return cmds
}

// Reset discards every recorded command.
func (e *CommandEncoder) Reset() { e.cmds = e.cmds[:0] }

// String implements fmt.Stringer.
func (e *CommandEncoder) String() string {
	return fmt.Sprintf("CommandEncoder(%s, %d commands)", e.label, len(e.cmds))
}
