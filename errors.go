package webtex

import (
	"errors"

	"github.com/gogpu/webtex/devcaps"
	"github.com/gogpu/webtex/gpushare"
	"github.com/gogpu/webtex/internal/profile"
	"github.com/gogpu/webtex/ipc"
	"github.com/gogpu/webtex/supervisor"
)

// Error taxonomy. Frame-path errors (ErrAdapterMismatch, ErrImport) never
// reach the caller of PollFrame; they switch the instance to software frames
// and show up as a StateSoftware event. ErrSpawn and ErrChannelClosed are
// returned to the caller that created or uses the instance.
var (
	// ErrSpawn reports that the engine process could not be started.
	ErrSpawn = supervisor.ErrSpawn

	// ErrAdapterMismatch reports a shared texture from another GPU.
	ErrAdapterMismatch = gpushare.ErrAdapterMismatch

	// ErrImport reports a shared texture that could not be imported.
	ErrImport = gpushare.ErrImport

	// ErrChannelClosed reports a message channel whose engine is gone.
	ErrChannelClosed = ipc.ErrChannelClosed

	// ErrCapabilityUnavailable reports that the accelerated path is off
	// for this session.
	ErrCapabilityUnavailable = devcaps.ErrCapabilityUnavailable

	// ErrProtocol reports a malformed or out-of-order message.
	ErrProtocol = ipc.ErrProtocol

	// ErrDataDirInUse reports a data directory locked by another host.
	ErrDataDirInUse = profile.ErrInUse
)

var (
	// ErrInstanceNotFound reports an unknown or destroyed instance id.
	ErrInstanceNotFound = errors.New("webtex: instance not found")

	// ErrInvalidSize reports a zero or negative instance size.
	ErrInvalidSize = errors.New("webtex: invalid size")

	// ErrCreateRejected reports that the engine refused to create an
	// instance.
	ErrCreateRejected = errors.New("webtex: engine rejected instance")

	// ErrClosed reports use of a closed Core.
	ErrClosed = errors.New("webtex: core closed")
)
