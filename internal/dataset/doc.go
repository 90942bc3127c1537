// Package dataset turns a Label Studio JSON export into an Ultralytics YOLO
// dataset directory:
//
//	<dir>/images/{train,val}   links to the source images
//	<dir>/labels/{train,val}   one "cls cx cy w h" file per labeled image
//	<dir>/data.yaml            dataset manifest consumed by `yolo train`
//	<dir>/classes.txt          "id: name" per class
//
// The train/val split is a seeded shuffle, so the same export always yields
// the same split.
package dataset
