//go:build cgo

package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"
)

//export quaildb_open_memory
func quaildb_open_memory() C.int {
	handle, err := openMemory()
	if err != nil {
		return -1
	}
	return C.int(handle)
}

//export quaildb_open_file
func quaildb_open_file(path *C.char) C.int {
	handle, err := openFile(C.GoString(path))
	if err != nil {
		return -1
	}
	return C.int(handle)
}

//export quaildb_close
func quaildb_close(handle C.int) {
	closeHandle(int(handle))
}

//export quaildb_execute
func quaildb_execute(handle C.int, query *C.char) *C.char {
	return C.CString(string(execute(int(handle), C.GoString(query))))
}

//export quaildb_save
func quaildb_save(handle C.int, message *C.char) *C.char {
	return C.CString(string(save(int(handle), C.GoString(message))))
}

//export quaildb_free
func quaildb_free(ptr *C.char) {
	C.free(unsafe.Pointer(ptr))
}
