//go:build windows

package security

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// Protect encrypts data with Windows DPAPI using CRYPTPROTECT_LOCAL_MACHINE,
// binding the ciphertext to the machine rather than the user. The agent may
// run as LocalSystem while settings are written from a user session, so the
// two accounts must share the key material.
func Protect(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	in := toDataBlob(data)
	var out windows.DataBlob
	err := windows.CryptProtectData(&in, nil, nil, 0, nil,
		windows.CRYPTPROTECT_UI_FORBIDDEN|windows.CRYPTPROTECT_LOCAL_MACHINE, &out)
	if err != nil {
		return nil, err
	}
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(out.Data)))
	return copyBlob(out), nil
}

// Unprotect decrypts machine-bound DPAPI data written by Protect.
func Unprotect(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	in := toDataBlob(data)
	var out windows.DataBlob
	prompt := windows.CryptProtectPromptStruct{
		Size: uint32(unsafe.Sizeof(windows.CryptProtectPromptStruct{})),
	}
	err := windows.CryptUnprotectData(&in, nil, nil, 0, &prompt,
		windows.CRYPTPROTECT_UI_FORBIDDEN|windows.CRYPTPROTECT_LOCAL_MACHINE, &out)
	if err != nil {
		return nil, err
	}
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(out.Data)))
	return copyBlob(out), nil
}

func toDataBlob(data []byte) windows.DataBlob {
	return windows.DataBlob{Size: uint32(len(data)), Data: &data[0]}
}

func copyBlob(blob windows.DataBlob) []byte {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(blob.Data)), int(blob.Size))
	cp := make([]byte, len(buf))
	copy(cp, buf)
	return cp
}
