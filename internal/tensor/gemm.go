package tensor

import (
	"runtime"
	"sync"
)

const (
	tileM = 32
	tileN = 64
	tileK = 32
)

// Gemm computes C = alpha*A*B + beta*C. Output rows are split into
// contiguous ranges, one goroutine per range; workers <= 0 uses GOMAXPROCS.
// It panics when the dimensions disagree.
func Gemm(C, A, B *Mat, alpha, beta float32, workers int) {
	if A.C != B.R || C.R != A.R || C.C != B.C {
		panic("gemm: dimension mismatch")
	}
	if C.R == 0 || C.C == 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	// small products are not worth a goroutine per range
	if C.R*C.C*A.C < 1<<15 {
		workers = 1
	}
	workers = min(workers, (C.R+tileM-1)/tileM)
	if workers <= 1 {
		gemmRows(C, A, B, alpha, beta, 0, C.R)
		return
	}

	chunk := (C.R + workers - 1) / workers
	var wg sync.WaitGroup
	for rs := 0; rs < C.R; rs += chunk {
		re := min(rs+chunk, C.R)
		wg.Add(1)
		go func() {
			defer wg.Done()
			gemmRows(C, A, B, alpha, beta, rs, re)
		}()
	}
	wg.Wait()
}

// gemmRows performs a blocked update of rows [rs, re) of C.
func gemmRows(C, A, B *Mat, alpha, beta float32, rs, re int) {
	for i := rs; i < re; i++ {
		row := C.Row(i)
		switch beta {
		case 0:
			clear(row)
		case 1:
		default:
			Scale(row, beta)
		}
	}
	for i0 := rs; i0 < re; i0 += tileM {
		iMax := min(i0+tileM, re)
		for k0 := 0; k0 < A.C; k0 += tileK {
			kMax := min(k0+tileK, A.C)
			for j0 := 0; j0 < B.C; j0 += tileN {
				jMax := min(j0+tileN, B.C)
				for i := i0; i < iMax; i++ {
					a := A.Row(i)
					c := C.Row(i)[j0:jMax]
					for k := k0; k < kMax; k++ {
						av := alpha * a[k]
						if av == 0 {
							continue
						}
						b := B.Row(k)[j0:jMax]
						for j, bv := range b {
							c[j] += av * bv
						}
					}
				}
			}
		}
	}
}
