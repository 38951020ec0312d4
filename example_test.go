package zvault_test

import (
	"log"
	"net/http"
	"os"

	"github.com/zvault/zvault"
	"github.com/zvault/zvault/zvaultfs"
	"github.com/zvault/zvault/zvaulthttp"
)

func Example() {
	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}

	ar := zvault.NewArchive()
	if err := zvaultfs.AddDirRecursive(ar, cwd, nil); err != nil {
		log.Fatal(err)
	}

	img, err := ar.Build()
	if err != nil {
		log.Fatal(err)
	}

	http.Handle("/", zvaulthttp.NewHandler(img))
	log.Fatal(http.ListenAndServe(":8080", nil))
}
