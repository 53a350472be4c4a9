package ninep

import "strconv"

// Error is the client's error taxonomy. Remote failures arrive as Rlerror
// messages carrying a Linux errno and are folded into this set; local
// failures (codec bounds, pool exhaustion, protocol violations) use the same
// type so callers handle both uniformly with errors.Is.
type Error int

const (
	ErrNotFound       = Error(iota + 1) // no such file or directory
	ErrPermission                       // permission denied
	ErrExists                           // file exists
	ErrIsDir                            // is a directory
	ErrNotDir                           // not a directory
	ErrInvalid                          // invalid argument
	ErrNameTooLong                      // name too long
	ErrNotEmpty                         // directory not empty
	ErrCrossDevice                      // cross-device link
	ErrNoDevice                         // no such device
	ErrIO                               // input/output error
	ErrReadOnly                         // read-only file system
	ErrNoSpace                          // no space left on device
	ErrTooManyFiles                     // too many open files
	ErrBufferOverflow                   // buffer overflow
	ErrNotSupported                     // operation not supported
	ErrNoMemory                         // cannot allocate memory
	ErrNotConnected                     // client not connected
	ErrProtocol                         // protocol violation
)

var errorDescriptions = map[Error]string{
	ErrNotFound:       "no such file or directory",
	ErrPermission:     "permission denied",
	ErrExists:         "file exists",
	ErrIsDir:          "is a directory",
	ErrNotDir:         "not a directory",
	ErrInvalid:        "invalid argument",
	ErrNameTooLong:    "name too long",
	ErrNotEmpty:       "directory not empty",
	ErrCrossDevice:    "invalid cross-device link",
	ErrNoDevice:       "no such device",
	ErrIO:             "input/output error",
	ErrReadOnly:       "read-only file system",
	ErrNoSpace:        "no space left on device",
	ErrTooManyFiles:   "too many open files",
	ErrBufferOverflow: "buffer overflow",
	ErrNotSupported:   "operation not supported",
	ErrNoMemory:       "cannot allocate memory",
	ErrNotConnected:   "client not connected",
	ErrProtocol:       "protocol violation",
}

// Error prints the description of the error.
func (e Error) Error() string {
	if desc := errorDescriptions[e]; desc != "" {
		return desc
	}
	return "9p error " + strconv.Itoa(int(e))
}

// Linux errno values carried by Rlerror.
const (
	errnoEPERM        = 1
	errnoENOENT       = 2
	errnoEIO          = 5
	errnoENXIO        = 6
	errnoENOMEM       = 12
	errnoEACCES       = 13
	errnoEEXIST       = 17
	errnoEXDEV        = 18
	errnoENODEV       = 19
	errnoENOTDIR      = 20
	errnoEISDIR       = 21
	errnoEINVAL       = 22
	errnoENFILE       = 23
	errnoEMFILE       = 24
	errnoENOSPC       = 28
	errnoEROFS        = 30
	errnoENAMETOOLONG = 36
	errnoENOTEMPTY    = 39
	errnoEOVERFLOW    = 75
	errnoEOPNOTSUPP   = 95
)

var errnoTable = map[uint32]Error{
	errnoEPERM:        ErrPermission,
	errnoENOENT:       ErrNotFound,
	errnoEIO:          ErrIO,
	errnoENXIO:        ErrNoDevice,
	errnoENOMEM:       ErrNoMemory,
	errnoEACCES:       ErrPermission,
	errnoEEXIST:       ErrExists,
	errnoEXDEV:        ErrCrossDevice,
	errnoENODEV:       ErrNoDevice,
	errnoENOTDIR:      ErrNotDir,
	errnoEISDIR:       ErrIsDir,
	errnoEINVAL:       ErrInvalid,
	errnoENFILE:       ErrTooManyFiles,
	errnoEMFILE:       ErrTooManyFiles,
	errnoENOSPC:       ErrNoSpace,
	errnoEROFS:        ErrReadOnly,
	errnoENAMETOOLONG: ErrNameTooLong,
	errnoENOTEMPTY:    ErrNotEmpty,
	errnoEOVERFLOW:    ErrBufferOverflow,
	errnoEOPNOTSUPP:   ErrNotSupported,
}

// ErrorFromErrno maps a Linux errno from an Rlerror to the local taxonomy.
// Unrecognized values collapse to ErrIO.
func ErrorFromErrno(errno uint32) Error {
	if e, ok := errnoTable[errno]; ok {
		return e
	}
	return ErrIO
}
