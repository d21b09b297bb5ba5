// Command qrdecode reads a PNG or JPEG image and prints the text of the QR code
// in it.
//
//	qrdecode < ticket.png
package main

import (
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"

	"github.com/qrscan/qrscan-go/zxing"
)

var (
	tryHarder bool
	maxWidth  int
	verbose   bool
)

func main() {
	log.SetFlags(0)
	flag.BoolVar(&tryHarder, "tryharder", false, "spend more time looking for a code")
	flag.IntVar(&maxWidth, "maxwidth", 1024, "scale down images wider than this before decoding")
	flag.BoolVar(&verbose, "verbose", false, "print verbose output")
	flag.Parse()

	img, format, err := image.Decode(os.Stdin)
	if err != nil {
		log.Fatalf("decoding image: %v", err)
	}
	if verbose {
		log.Printf("read %s image of %v", format, img.Bounds().Size())
	}

	engine := zxing.NewEngine(nil, &zxing.EngineOpts{MaxWidth: maxWidth, TryHarder: tryHarder, Verbose: verbose})
	text, err := engine.DecodeImage(img)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Println(text)
}
