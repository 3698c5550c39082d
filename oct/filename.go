package oct

import "fmt"

// FrameFilename is the name of the file holding B-scan b of nAvg at slow axis
// index y of sizeY.  Indices are zero based and written one based.
func FrameFilename(y, sizeY, b, nAvg int, probe, ext string) string {
	return fmt.Sprintf("Data_Y%04d_YTotal%d_B%04d_BTotal%d_%s.%s", y+1, sizeY, b+1, nAvg, probe, ext)
}

// OCTFilename is the name of the ThorImageOCT file written with a volume
func OCTFilename(device string) string {
	return "Volume" + device + "OCTFile.oct"
}

// OCTEntryTitle is the title of raw data buffer n inside an OCT file
func OCTEntryTitle(n int) string {
	return fmt.Sprintf(`data\Spectral%d.data`, n)
}
